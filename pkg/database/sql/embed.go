package sql

import (
	"embed"
)

//go:embed schema/*.sql
//go:embed seeds/demo/*.sql
var Content embed.FS

// Schema returns the api key schema DDL.
func Schema() (string, error) {
	b, err := Content.ReadFile("schema/api_keys.sql")
	return string(b), err
}

// DemoSeed returns the statements inserting the demo credentials.
func DemoSeed() (string, error) {
	b, err := Content.ReadFile("seeds/demo/api_keys.sql")
	return string(b), err
}
