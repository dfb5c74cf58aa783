package data

import "embed"

var (
	//go:embed namePolicies.yaml
	NamePolicies embed.FS
)
