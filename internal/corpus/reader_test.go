package corpus

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/hadith-search/pkg/types"
)

const hadithLine = `{"collection_slug":"riyadussalihin","collection_name":"Riyad as-Salihin","book_id":"1","hadith_id_site":"680","hadith_num_global":"680","texts":[{"language":"ar","content":"ليس الشديد"},{"language":"en","content":"The strong is not the one who overcomes the people by his strength"}],"narrator":"Abu Hurairah (May Allah be pleased with him) reported:","grading":["Sahih"]}`

const tafsirLine = `{"surah":2,"ayah":153,"verse_key":"2:153","resource_name":"Ibn Kathir","text_html":"<p>Seek help through <b>patience</b></p>"}`

func drain(t *testing.T, src Source) ([]*types.RawRecord, []error) {
	t.Helper()
	var (
		recs []*types.RawRecord
		errs []error
	)
	for {
		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			return recs, errs
		}
		if err != nil {
			require.ErrorIs(t, err, types.ErrValidation)
			errs = append(errs, err)
			continue
		}
		recs = append(recs, rec)
	}
}

func TestReader(t *testing.T) {
	input := hadithLine + "\n\n" + tafsirLine + "\n{not json}\n" + `{"collection_slug":"bukhari"}`
	recs, errs := drain(t, NewReader(strings.NewReader(input), "test.jsonl"))

	require.Len(t, recs, 3)
	assert.Equal(t, "riyadussalihin", recs[0].CollectionSlug)
	assert.Equal(t, "Sahih", recs[0].Grading[0].Grade)
	require.NotNil(t, recs[0].Narrator)
	assert.True(t, recs[1].IsTafsir())
	assert.Equal(t, "bukhari", recs[2].CollectionSlug)

	require.Len(t, errs, 1)
	var verr *types.ValidationError
	require.ErrorAs(t, errs[0], &verr)
	assert.Equal(t, "test.jsonl:4", verr.RecordID)
}

func TestFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.jsonl")
	b := filepath.Join(dir, "b.jsonl")
	require.NoError(t, os.WriteFile(a, []byte(hadithLine+"\n"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte(tafsirLine+"\n"), 0o644))

	src := OpenFiles(a, b)
	defer func() { _ = src.Close() }()

	recs, errs := drain(t, src)
	assert.Empty(t, errs)
	require.Len(t, recs, 2)
	assert.False(t, recs[0].IsTafsir())
	assert.True(t, recs[1].IsTafsir())
}

func TestFilesMissing(t *testing.T) {
	_, err := OpenFiles(filepath.Join(t.TempDir(), "nope.jsonl")).Next()
	require.Error(t, err)
	assert.False(t, errors.Is(err, types.ErrValidation))
}

func TestSlice(t *testing.T) {
	src := FromSlice(&types.RawRecord{CollectionSlug: "x"})
	rec, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, "x", rec.CollectionSlug)
	_, err = src.Next()
	assert.ErrorIs(t, err, io.EOF)
}
