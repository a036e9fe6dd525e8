package config

// ConfigSchema is the static JSON Schema validating the configuration
// document shape this module loads. It enforces the url ⇒ sha1size
// invariant at load time; constraining lang/edition to enums computed
// against a live catalog is a build-time concern and is intentionally not
// reproduced here, since it would require a catalog fetch this package
// never performs.
const ConfigSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "winimg build configuration",
  "type": "object",
  "required": ["version", "arch"],
  "properties": {
    "lang": { "type": "string" },
    "arch": { "type": "string", "enum": ["x64", "arm64", "x86"] },
    "edition": { "type": "string" },
    "version": { "type": "string", "enum": ["10", "11"] },
    "sha1size": { "type": "string", "pattern": "^[0-9a-f]{40}:[0-9]+$" },
    "url": { "type": "string" }
  },
  "if": {
    "required": ["url"]
  },
  "then": {
    "required": ["url", "sha1size"]
  },
  "additionalProperties": false
}`
