// Package goqueryparser extracts venues, race time tables and race entries from
// boatrace.jp pages using goquery.
package goqueryparser

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/boatrace-crawler/internal/race"
)

var (
	venueCodeRe  = regexp.MustCompile(`jcd=(\d{2})`)
	raceNumberRe = regexp.MustCompile(`(\d+)\s*R`)
	clockRe      = regexp.MustCompile(`(\d{1,2}):(\d{2})`)
	leadingIntRe = regexp.MustCompile(`\d+`)
	motorRe      = regexp.MustCompile(`M\s*(\d+)`)
	boatRe       = regexp.MustCompile(`B\s*(\d+)`)
	// 4320 / A1 峰 竜太 佐賀/佐賀 38歳/52.0kg
	racerRe = regexp.MustCompile(
		`(\d{4})\s*/\s*([AB][12])\s*(\S+(?:\s\S+)*?)\s+([^/\s]+)/(\S+)\s+(\d+)歳/(\d+(?:\.\d+)?)kg`,
	)
)

const (
	venueLinkSelector = `a[href*="/owpc/pc/race/"]`
	primaryTable      = "table.is-w495"
	fallbackTable     = "div.table1 table"
)

// Parser implements race.Parser.
type Parser struct{}

var _ race.Parser = (*Parser)(nil)

// New returns a Parser.
func New() *Parser {
	return &Parser{}
}

// ParseVenues returns the open venue codes linked from the landing page, in
// document order without duplicates.
func (p *Parser) ParseVenues(body []byte) ([]string, error) {
	doc, err := load(body)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	codes := make([]string, 0)
	doc.Find(venueLinkSelector).Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		m := venueCodeRe.FindStringSubmatch(href)
		if m == nil || seen[m[1]] || !race.ValidVenue(m[1]) {
			return
		}
		seen[m[1]] = true
		codes = append(codes, m[1])
	})
	return codes, nil
}

// ParseVenueSchedule reads the per-race deadline table for one venue.
func (p *Parser) ParseVenueSchedule(body []byte, venueCode, date string) ([]race.RaceScheduleEntry, error) {
	doc, err := load(body)
	if err != nil {
		return nil, err
	}
	venueName, _ := race.VenueName(venueCode)
	byRace := make(map[int]race.RaceScheduleEntry)
	raceTable(doc).Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		number, ok := raceNumber(cells.Eq(0))
		if !ok {
			return
		}
		scheduled, ok := firstClock(cells.Slice(1, cells.Length()))
		if !ok {
			return
		}
		if _, dup := byRace[number]; dup {
			return
		}
		byRace[number] = race.RaceScheduleEntry{
			Date:          date,
			VenueCode:     venueCode,
			VenueName:     venueName,
			RaceNumber:    number,
			ScheduledTime: scheduled,
			Status:        race.StatusScheduled,
		}
	})

	entries := make([]race.RaceScheduleEntry, 0, len(byRace))
	for _, e := range byRace {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].RaceNumber < entries[j].RaceNumber })
	return entries, nil
}

// ParseRaceEntries reads up to six boats from a race entry page.
func (p *Parser) ParseRaceEntries(
	body []byte,
	venueCode string,
	raceNumber int,
	date string,
) ([]race.RaceEntryRecord, error) {
	doc, err := load(body)
	if err != nil {
		return nil, err
	}
	raceID := race.RaceID(date, venueCode, raceNumber)
	seen := make(map[int]bool)
	records := make([]race.RaceEntryRecord, 0, race.MaxBoats)
	raceTable(doc).Find("tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		if len(records) >= race.MaxBoats {
			return false
		}
		cells := row.Find("td, th")
		if cells.Length() < 6 {
			return true
		}
		boat, ok := boatNumber(cells.Eq(0))
		if !ok || seen[boat] {
			return true
		}
		record, ok := racerDetail(cells.Eq(1))
		if !ok {
			record, ok = racerDetail(row)
		}
		if !ok {
			return true
		}
		rest := cellText(cells.Slice(2, cells.Length()))
		record.RaceID = raceID
		record.VenueCode = venueCode
		record.RaceNumber = raceNumber
		record.Date = date
		record.BoatNumber = boat
		record.MotorNumber = firstInt(motorRe, rest)
		record.BoatID = firstInt(boatRe, rest)
		seen[boat] = true
		records = append(records, record)
		return true
	})
	return records, nil
}

func load(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}
	return doc, nil
}

func raceTable(doc *goquery.Document) *goquery.Selection {
	if t := doc.Find(primaryTable); t.Length() > 0 {
		return t.First()
	}
	return doc.Find(fallbackTable).First()
}

func cellText(sel *goquery.Selection) string {
	return strings.Join(strings.Fields(sel.Text()), " ")
}

func raceNumber(cell *goquery.Selection) (int, bool) {
	m := raceNumberRe.FindStringSubmatch(cellText(cell))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || !race.ValidRaceNumber(n) {
		return 0, false
	}
	return n, true
}

func firstClock(cells *goquery.Selection) (string, bool) {
	var out string
	cells.EachWithBreak(func(_ int, cell *goquery.Selection) bool {
		m := clockRe.FindStringSubmatch(cellText(cell))
		if m == nil {
			return true
		}
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		if hour > 23 || minute > 59 {
			return true
		}
		out = fmt.Sprintf("%02d:%02d", hour, minute)
		return false
	})
	return out, out != ""
}

func boatNumber(cell *goquery.Selection) (int, bool) {
	m := leadingIntRe.FindString(cellText(cell))
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil || n < 1 || n > race.MaxBoats {
		return 0, false
	}
	return n, true
}

func racerDetail(sel *goquery.Selection) (race.RaceEntryRecord, bool) {
	m := racerRe.FindStringSubmatch(cellText(sel))
	if m == nil {
		return race.RaceEntryRecord{}, false
	}
	age, _ := strconv.Atoi(m[6])
	weight, _ := strconv.ParseFloat(m[7], 64)
	return race.RaceEntryRecord{
		RacerID:   m[1],
		Class:     m[2],
		RacerName: strings.TrimSpace(m[3]),
		Region:    strings.TrimSpace(m[4]),
		Branch:    strings.TrimSpace(m[5]),
		Age:       age,
		Weight:    weight,
	}, true
}

// firstInt returns 0 when the number is absent.
func firstInt(re *regexp.Regexp, text string) int {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}
