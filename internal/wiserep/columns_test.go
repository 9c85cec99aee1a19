package wiserep

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocateColumns(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		headers []string
		labels  []string
		want    map[string]int
		missing []string
	}{
		{
			name:    "all present",
			headers: []string{"", "Obj. Name", "IAUName", "Redshift", "Type", "No. ofSpectra"},
			labels:  ObjectLabels,
			want:    map[string]int{ColObjName: 1, ColIAUName: 2, ColRedshift: 3, ColType: 4, ColSpectraCount: 5},
		},
		{
			name:    "missing labels are omitted",
			headers: []string{"Obj. Name", "Type"},
			labels:  ObjectLabels,
			want:    map[string]int{ColObjName: 0, ColType: 1},
			missing: []string{ColIAUName, ColRedshift, ColSpectraCount},
		},
		{
			name:    "no trimming",
			headers: []string{" Obj. Name", "No. of Spectra"},
			labels:  ObjectLabels,
			want:    map[string]int{},
			missing: []string{ColObjName, ColSpectraCount},
		},
		{
			name:    "last occurrence wins",
			headers: []string{"Type", "Redshift", "Type"},
			labels:  []string{ColType, ColRedshift},
			want:    map[string]int{ColType: 2, ColRedshift: 1},
		},
		{
			name:    "empty header row",
			labels:  SpectrumLabels,
			want:    map[string]int{},
			missing: SpectrumLabels,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cols := LocateColumns(tc.headers, tc.labels...)
			assert.Equal(t, len(tc.want), cols.Len())
			for label, idx := range tc.want {
				got, ok := cols.Index(label)
				require.True(t, ok, label)
				assert.Equal(t, idx, got, label)
			}
			for _, label := range tc.missing {
				assert.False(t, cols.Has(label), label)
			}
		})
	}
}

func TestColumnIndexCell(t *testing.T) {
	t.Parallel()

	doc := parseFixture(t, `<table><tr><td>a</td><td>b</td></tr></table>`)
	cells := doc.Find("td")
	cols := LocateColumns([]string{"first", "second", "third"}, "first", "third", "fourth")

	got, ok := cols.Cell(cells, "first")
	require.True(t, ok)
	assert.Equal(t, "a", got)

	_, ok = cols.Cell(cells, "third")
	assert.False(t, ok, "row shorter than header")
	_, ok = cols.Cell(cells, "fourth")
	assert.False(t, ok, "unknown label")
	assert.Empty(t, cols.CellOrEmpty(nil, "first"))
}

func TestLocateHeader(t *testing.T) {
	t.Parallel()

	doc := parseFixture(t, renderResults(false, sn2011fe()))
	cols, err := LocateHeader(doc, ObjectHeaderSelector, ObjectLabels...)
	require.NoError(t, err)
	assert.Equal(t, len(ObjectLabels), cols.Len())
	idx, _ := cols.Index(ColSpectraCount)
	assert.Equal(t, 5, idx)

	spec, err := LocateHeader(doc, SpectrumHeaderSelector, SpectrumLabels...)
	require.NoError(t, err)
	assert.Equal(t, len(SpectrumLabels), spec.Len())

	empty := parseFixture(t, `<html><body><p>No objects found</p></body></html>`)
	_, err = LocateHeader(empty, ObjectHeaderSelector, ObjectLabels...)
	assert.True(t, errors.Is(err, ErrNoHeaderRow))
}
