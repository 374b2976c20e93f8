package request

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseItemsQuery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		query   string
		want    ItemsQuery
		wantErr bool
	}{
		{name: "default", query: "", want: ItemsQuery{Limit: DefaultItems}},
		{name: "last", query: "last=5", want: ItemsQuery{Limit: 5}},
		{name: "first", query: "first=3", want: ItemsQuery{Limit: 3, Oldest: true}},
		{name: "both", query: "first=3&last=2", wantErr: true},
		{name: "not a number", query: "last=ten", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			q, err := url.ParseQuery(tt.query)
			require.NoError(t, err)

			got, err := ParseItemsQuery(q)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
