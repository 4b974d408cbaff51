package pagination

// Pagination is the offset/limit window bound from query strings.
type Pagination struct {
	Offset int `form:"offset" json:"offset" binding:"gte=0"`
	Limit  int `form:"limit" json:"limit" binding:"gte=0"`
}

// Normalize applies the default limit when none was given and clamps it to
// max. Negative offsets are treated as zero.
func (p Pagination) Normalize(defaultLimit, max int) Pagination {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = defaultLimit
	}
	if max > 0 && p.Limit > max {
		p.Limit = max
	}
	return p
}

type PageInfo struct {
	Offset  int  `json:"offset"`
	Limit   int  `json:"limit"`
	HasMore bool `json:"has_more"`
}

// BuildPageInfo expects data fetched with limit+1 rows and trims the extra row.
func BuildPageInfo[T any](data []*T, p Pagination) ([]*T, PageInfo) {
	info := PageInfo{Offset: p.Offset, Limit: p.Limit}
	if p.Limit > 0 && len(data) > p.Limit {
		info.HasMore = true
		data = data[:p.Limit]
	}
	return data, info
}
