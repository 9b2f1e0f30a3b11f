//go:build embed_openapi

package api

import "cargoalloc/openapi"

func openAPILoad() ([]byte, error) { return openapi.Spec, nil }
