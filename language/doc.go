// Package language holds the catalog of supported languages.
//
// Each Descriptor names the container image, the source file extension and
// an argv builder that compiles and runs a source file. The Registry is
// built once at startup from the built-in table, an optional YAML catalog
// file and configuration overrides, and is read-only afterwards.
package language
