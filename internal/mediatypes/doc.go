// Package mediatypes holds the archive's shared, dependency-free vocabulary:
// the closed asset variant (Kind), the per-extension Format registry with
// magic-byte classification, derivative tier names, and the normalized
// technical and user metadata structs.
//
// Classify runs once per candidate at discovery. Everything downstream
// switches on Format.Kind instead of re-inspecting file names:
//
//	format, err := mediatypes.Classify(path)
//	switch format.Kind {
//	case mediatypes.KindImage:    // decode, or embedded preview when format.Raw
//	case mediatypes.KindVideo:    // poster frame first
//	case mediatypes.KindDocument: // stored, never resized
//	}
package mediatypes
