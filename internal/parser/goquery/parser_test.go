package goqueryparser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/boatrace-crawler/internal/race"
)

const landingPage = `<html><body>
<div class="table1">
  <a href="/owpc/pc/race/raceindex?jcd=02&hd=20250601">戸田</a>
  <a href="/owpc/pc/race/racelist?rno=1&jcd=02&hd=20250601">1R</a>
  <a href="/owpc/pc/race/raceindex?jcd=12&hd=20250601">住之江</a>
  <a href="/owpc/pc/race/raceindex?jcd=99&hd=20250601">bogus</a>
  <a href="/owpc/pc/extra/index">news</a>
  <a>no href</a>
</div>
</body></html>`

const venuePage = `<html><body>
<table class="is-w495">
  <tr><th>レース</th><th>締切予定時刻</th></tr>
  <tr><td>1R</td><td>15:17</td></tr>
  <tr><td>2R</td><td>9:05</td></tr>
  <tr><td>3R</td><td>--:--</td></tr>
  <tr><td>2R</td><td>16:40</td></tr>
  <tr><td>13R</td><td>20:00</td></tr>
  <tr><td>12R</td><td>20:45</td></tr>
</table>
</body></html>`

const entryPage = `<html><body>
<div class="table1"><table>
  <tr><th>枠</th><th>登録番号/級別 氏名 支部/出身地 年齢/体重</th><th>F数</th><th>全国</th><th>当地</th><th>モーター</th></tr>
  <tr>
    <td>1</td>
    <td>4320 / A1
        峰 竜太
        佐賀/佐賀 38歳/52.0kg</td>
    <td>F0</td><td>7.50</td><td>8.10</td><td>M23 B45</td>
  </tr>
  <tr>
    <td>2</td>
    <td>3941 / B1 池田浩二 愛知/愛知 45歳/51.5kg</td>
    <td>F0</td><td>6.80</td><td>6.10</td><td>none</td>
  </tr>
  <tr>
    <td>2</td>
    <td>3941 / B1 duplicate 愛知/愛知 45歳/51.5kg</td>
    <td>F0</td><td>6.80</td><td>6.10</td><td>M1 B1</td>
  </tr>
  <tr>
    <td>7</td>
    <td>1234 / A2 out of range 東京/東京 30歳/50.0kg</td>
    <td>F0</td><td>6.80</td><td>6.10</td><td>M1 B1</td>
  </tr>
  <tr><td>3</td><td>unreadable</td><td></td><td></td><td></td><td></td></tr>
  <tr><td>4</td><td>short row</td></tr>
</table></div>
</body></html>`

// TestParseVenues ensures every active venue link on the landing page is returned.
func TestParseVenues(t *testing.T) {
	t.Parallel()

	codes, err := New().ParseVenues([]byte(landingPage))
	require.NoError(t, err)
	require.Equal(t, []string{"02", "12"}, codes)
}

func TestParseVenuesNoMatch(t *testing.T) {
	t.Parallel()

	codes, err := New().ParseVenues([]byte("<html><body>closed</body></html>"))
	require.NoError(t, err)
	require.Empty(t, codes)
}

func TestParseVenueSchedule(t *testing.T) {
	t.Parallel()

	entries, err := New().ParseVenueSchedule([]byte(venuePage), "12", "20250601")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	require.Equal(t, race.RaceScheduleEntry{
		Date:          "20250601",
		VenueCode:     "12",
		VenueName:     "住之江",
		RaceNumber:    1,
		ScheduledTime: "15:17",
		Status:        race.StatusScheduled,
	}, entries[0])
	require.Equal(t, 2, entries[1].RaceNumber)
	require.Equal(t, "09:05", entries[1].ScheduledTime, "first row for a race wins and is zero padded")
	require.Equal(t, 12, entries[2].RaceNumber)
}

func TestParseVenueScheduleStructureMismatch(t *testing.T) {
	t.Parallel()

	entries, err := New().ParseVenueSchedule([]byte("<html><body><p>maintenance</p></body></html>"), "01", "20250601")
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestParseRaceEntries(t *testing.T) {
	t.Parallel()

	records, err := New().ParseRaceEntries([]byte(entryPage), "12", 3, "20250601")
	require.NoError(t, err)
	require.Len(t, records, 2)

	require.Equal(t, race.RaceEntryRecord{
		RaceID:      "202506011203",
		VenueCode:   "12",
		RaceNumber:  3,
		Date:        "20250601",
		BoatNumber:  1,
		RacerID:     "4320",
		RacerName:   "峰 竜太",
		Class:       "A1",
		Age:         38,
		Weight:      52.0,
		Region:      "佐賀",
		Branch:      "佐賀",
		MotorNumber: 23,
		BoatID:      45,
	}, records[0])

	second := records[1]
	require.Equal(t, 2, second.BoatNumber)
	require.Equal(t, "池田浩二", second.RacerName)
	require.Equal(t, "B1", second.Class)
	require.Zero(t, second.MotorNumber, "missing motor stays unknown")
	require.Zero(t, second.BoatID)
}

// TestParseRaceEntriesCapsAtSixBoats ensures extra rows beyond the sixth boat are ignored.
func TestParseRaceEntriesCapsAtSixBoats(t *testing.T) {
	t.Parallel()

	page := `<table class="is-w495"><tr><th>h</th></tr>`
	for boat := 1; boat <= 6; boat++ {
		page += `<tr><td>` + string(rune('0'+boat)) + `</td><td>4000 / A1 選手 東京/東京 30歳/50.0kg</td>` +
			`<td></td><td></td><td></td><td>M1 B2</td></tr>`
	}
	page += `</table>`

	records, err := New().ParseRaceEntries([]byte(page), "01", 1, "20250601")
	require.NoError(t, err)
	require.Len(t, records, race.MaxBoats)
	for i, r := range records {
		require.Equal(t, i+1, r.BoatNumber)
	}
}
