package source

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/mmcdole/gofeed"
)

// flexInt tolerates upstream APIs that serialize counters as either
// numbers or quoted strings.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid integer %q: %w", s, err)
	}
	*f = flexInt(n)
	return nil
}

type jsonVideo struct {
	TypeID      flexInt `json:"type_id"`
	Name        string  `json:"vod_name"`
	Year        string  `json:"vod_year"`
	Area        string  `json:"vod_area"`
	Director    string  `json:"vod_director"`
	Actor       string  `json:"vod_actor"`
	Content     string  `json:"vod_content"`
	Pic         string  `json:"vod_pic"`
	Score       string  `json:"vod_score"`
	Hits        flexInt `json:"vod_hits"`
	PlayURL     string  `json:"vod_play_url"`
}

type jsonEnvelope struct {
	Code      flexInt     `json:"code"`
	Page      flexInt     `json:"page"`
	PageCount flexInt     `json:"pagecount"`
	List      []jsonVideo `json:"list"`
}

type xmlVideo struct {
	TypeID   string `xml:"tid"`
	Name     string `xml:"name"`
	Year     string `xml:"year"`
	Area     string `xml:"area"`
	Director string `xml:"director"`
	Actor    string `xml:"actor"`
	Note     string `xml:"note"`
	Pic      string `xml:"pic"`
	Des      string `xml:"des"`
	Play     []struct {
		Flag string `xml:"flag,attr"`
		URL  string `xml:",chardata"`
	} `xml:"dl>dd"`
}

type xmlEnvelope struct {
	XMLName xml.Name `xml:"rss"`
	List    struct {
		Page      string     `xml:"page,attr"`
		PageCount string     `xml:"pagecount,attr"`
		Videos    []xmlVideo `xml:"video"`
	} `xml:"list"`
}

// parsePayload dispatches on the pinned format, or walks JSON -> XML -> RSS
// when the format is auto. The returned format names the parser that
// succeeded, letting the caller pin the source for later fetches.
func parsePayload(data []byte, format, sourceID string) (*Page, error) {
	switch format {
	case FormatJSON:
		return parseJSON(data, sourceID)
	case FormatXML:
		return parseXML(data, sourceID)
	case FormatRSS:
		return parseRSS(data, sourceID)
	case FormatAuto, "":
		if page, err := parseJSON(data, sourceID); err == nil {
			return page, nil
		}
		if page, err := parseXML(data, sourceID); err == nil {
			return page, nil
		}
		if page, err := parseRSS(data, sourceID); err == nil {
			return page, nil
		}
		return nil, fmt.Errorf("payload is neither JSON, XML nor RSS")
	default:
		return nil, fmt.Errorf("unknown source format: %s", format)
	}
}

func parseJSON(data []byte, sourceID string) (*Page, error) {
	var envelope jsonEnvelope
	decoder := json.NewDecoder(bytes.NewReader(data))
	if err := decoder.Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to parse JSON payload: %w", err)
	}
	if envelope.List == nil {
		return nil, fmt.Errorf("JSON payload has no list field")
	}

	page := &Page{
		Page:           max(int(envelope.Page), 1),
		TotalPages:     max(int(envelope.PageCount), 1),
		DetectedFormat: FormatJSON,
		Entries:        make([]Entry, 0, len(envelope.List)),
	}

	for _, v := range envelope.List {
		score, _ := strconv.ParseFloat(strings.TrimSpace(v.Score), 64)
		page.Entries = append(page.Entries, Entry{
			SourceID:    sourceID,
			TypeID:      strconv.Itoa(int(v.TypeID)),
			Title:       strings.TrimSpace(v.Name),
			Year:        strings.TrimSpace(v.Year),
			Description: strings.TrimSpace(v.Content),
			Area:        strings.TrimSpace(v.Area),
			Director:    strings.TrimSpace(v.Director),
			Actors:      strings.TrimSpace(v.Actor),
			CoverURL:    strings.TrimSpace(v.Pic),
			Score:       score,
			Hits:        int64(v.Hits),
			PlayURL:     strings.TrimSpace(v.PlayURL),
		})
	}

	return page, nil
}

func parseXML(data []byte, sourceID string) (*Page, error) {
	var envelope xmlEnvelope
	if err := xml.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse XML payload: %w", err)
	}
	if len(envelope.List.Videos) == 0 && envelope.List.Page == "" {
		return nil, fmt.Errorf("XML payload has no video list")
	}

	pageNum, _ := strconv.Atoi(envelope.List.Page)
	pageCount, _ := strconv.Atoi(envelope.List.PageCount)

	page := &Page{
		Page:           max(pageNum, 1),
		TotalPages:     max(pageCount, 1),
		DetectedFormat: FormatXML,
		Entries:        make([]Entry, 0, len(envelope.List.Videos)),
	}

	for _, v := range envelope.List.Videos {
		playURL := ""
		if len(v.Play) > 0 {
			playURL = strings.TrimSpace(v.Play[0].URL)
		}
		page.Entries = append(page.Entries, Entry{
			SourceID:    sourceID,
			TypeID:      strings.TrimSpace(v.TypeID),
			Title:       strings.TrimSpace(v.Name),
			Year:        strings.TrimSpace(v.Year),
			Description: strings.TrimSpace(v.Des),
			Area:        strings.TrimSpace(v.Area),
			Director:    strings.TrimSpace(v.Director),
			Actors:      strings.TrimSpace(v.Actor),
			CoverURL:    strings.TrimSpace(v.Pic),
			PlayURL:     playURL,
		})
	}

	return page, nil
}

// parseRSS supports providers exposing their catalog as an RSS/MRSS feed.
// Feeds are not paginated, so the result is always a single page.
func parseRSS(data []byte, sourceID string) (*Page, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse RSS payload: %w", err)
	}

	page := &Page{
		Page:           1,
		TotalPages:     1,
		DetectedFormat: FormatRSS,
		Entries:        make([]Entry, 0, len(feed.Items)),
	}

	for _, item := range feed.Items {
		entry := Entry{
			SourceID:    sourceID,
			Title:       strings.TrimSpace(item.Title),
			Description: strings.TrimSpace(item.Description),
			PlayURL:     strings.TrimSpace(item.Link),
		}
		if len(item.Categories) > 0 {
			entry.TypeID = strings.TrimSpace(item.Categories[0])
		}
		if item.PublishedParsed != nil {
			entry.Year = strconv.Itoa(item.PublishedParsed.Year())
		}
		if item.Image != nil {
			entry.CoverURL = item.Image.URL
		}
		if len(item.Enclosures) > 0 && item.Enclosures[0] != nil {
			entry.PlayURL = item.Enclosures[0].URL
		}
		page.Entries = append(page.Entries, entry)
	}

	return page, nil
}
