// Package db provides embedded database schema and static catalog data.
package db

import _ "embed"

// Schema contains the DDL statements for all application tables.
//
//go:embed migrations/001_schema.sql
var Schema string

// Bundles contains the deploy-time bundle catalog. Bundles are immutable at
// runtime; editing this file and redeploying is the only way to change them.
//
//go:embed bundles.json
var Bundles []byte
