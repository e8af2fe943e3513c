package model

// Bounds applied to submitted values.
const (
	MaxScore         = 999_999_999
	AccuracyScale    = 10_000 // basis points per 1.0
	MaxCombo         = 9_999
	MaxPlayerNameLen = 16 // runes
	MaxTrackIDLen    = 128
	AnonymousName    = "anonymous"
)
