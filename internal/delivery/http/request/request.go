package request

import (
	"errors"
	"net/url"
	"strconv"
)

// DefaultItems is the page size when neither first nor last is given.
const DefaultItems = 10

var ErrConflictingParams = errors.New("use either first or last, not both")

// ItemsQuery selects the newest (last) or oldest (first) listings.
type ItemsQuery struct {
	Limit  int
	Oldest bool
}

// ParseItemsQuery reads ?last=N or ?first=N.
func ParseItemsQuery(q url.Values) (ItemsQuery, error) {
	first, last := q.Get("first"), q.Get("last")
	switch {
	case first != "" && last != "":
		return ItemsQuery{}, ErrConflictingParams
	case first != "":
		n, err := strconv.Atoi(first)
		if err != nil {
			return ItemsQuery{}, errors.New("first must be an integer")
		}
		return ItemsQuery{Limit: n, Oldest: true}, nil
	case last != "":
		n, err := strconv.Atoi(last)
		if err != nil {
			return ItemsQuery{}, errors.New("last must be an integer")
		}
		return ItemsQuery{Limit: n}, nil
	default:
		return ItemsQuery{Limit: DefaultItems}, nil
	}
}
