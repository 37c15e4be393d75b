package source

// Source payload formats.
const (
	FormatJSON = "json"
	FormatXML  = "xml"
	FormatRSS  = "rss"
	FormatAuto = "auto"
)

// Entry is one normalized catalog entry as returned by a source, before
// category resolution and merging.
type Entry struct {
	SourceID    string
	TypeID      string // source taxonomy code, resolved by the category mapper
	Title       string
	Year        string
	Description string
	Area        string
	Director    string
	Actors      string
	CoverURL    string
	Score       float64
	Hits        int64
	PlayURL     string
}

// Page is the result of one bounded fetch. DetectedFormat reports which
// parser succeeded so an 'auto' source can be pinned opportunistically.
type Page struct {
	Entries        []Entry
	Page           int
	TotalPages     int
	DetectedFormat string
}

// Query describes one page request against a source.
type Query struct {
	Page    int
	Hours   int    // incremental lookback window, 0 for full
	TypeID  string // restrict to one source taxonomy code
	Keyword string
	Shorts  bool
}
