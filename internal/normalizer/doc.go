// Package normalizer converts raw corpus records into canonical Documents.
//
// Normalize is pure: it derives a stable identifier from the record's
// locator (collection:book:hadith for hadith, tafsir:resource:surah:ayah for
// verse commentary), cleans narrator attributions and titles, builds the embedding
// input and computes the content checksum used to skip unchanged records on
// re-ingestion.
//
//	doc, err := normalizer.Normalize(&rec)
//	if errors.Is(err, types.ErrValidation) {
//	    // record is malformed; report it and move on
//	}
package normalizer
