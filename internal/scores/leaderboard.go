// Package scores parses the web API responses that carry scores: the
// osu-osz2-getscores.php leaderboard and osu-getreplay.php replay bodies.
package scores

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrEmptyResponse is returned for an empty leaderboard body.
var ErrEmptyResponse = errors.New("empty leaderboard response")

// minScoreFields is the token count of a valid score line.
const minScoreFields = 15

// MapInfo is the header of a leaderboard response. Servers may send a
// partial header, in which case the missing fields stay zero.
type MapInfo struct {
	RankedStatus  int32 `json:"ranked_status"`
	ServerHasOsz2 bool  `json:"server_has_osz2"`
	BeatmapID     int32 `json:"beatmap_id"`
	BeatmapSetID  int32 `json:"beatmap_set_id"`
	NbScores      int32 `json:"nb_scores"`
	OnlineOffset  int32 `json:"online_offset"`
}

// Score is one online leaderboard entry.
type Score struct {
	ID         uint64 `json:"id"`
	MapMD5     string `json:"map_md5"`
	PlayerID   int32  `json:"player_id"`
	PlayerName string `json:"player_name"`
	Score      uint64 `json:"score"`
	MaxCombo   int32  `json:"max_combo"`
	Num50      int32  `json:"num50"`
	Num100     int32  `json:"num100"`
	Num300     int32  `json:"num300"`
	NumMiss    int32  `json:"num_miss"`
	NumKatu    int32  `json:"num_katu"`
	NumGeki    int32  `json:"num_geki"`
	Perfect    bool   `json:"perfect"`
	Mods       uint32 `json:"mods"`
	Timestamp  int64  `json:"timestamp"`
	Server     string `json:"server"`
	Client     string `json:"client"`
}

// Leaderboard is a parsed osu-osz2-getscores.php response.
type Leaderboard struct {
	MapMD5 string  `json:"map_md5"`
	Info   MapInfo `json:"info"`
	Scores []Score `json:"scores"`
}

// ParseLeaderboard parses a leaderboard body:
//
//	status|server_has_osz2|beatmap_id|set_id|nb_scores|fa_track|fa_license
//	online_offset
//	map name
//	user ratings
//	personal best
//	score lines, until the first empty line
//
// Score lines with fewer than 15 fields are skipped.
func ParseLeaderboard(body []byte, mapMD5, server string) (*Leaderboard, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyResponse
	}

	lb := &Leaderboard{MapMD5: mapMD5, Scores: make([]Score, 0)}

	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	lineNum := 0
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		switch {
		case lineNum == 0:
			lb.Info = parseHeader(line)
		case lineNum == 1:
			lb.Info.OnlineOffset = atoi32(line)
		case lineNum < 5:
			// map name, ratings, personal best
		default:
			if line == "" {
				return lb, nil
			}
			score, err := ParseScoreLine(line)
			if err != nil {
				log.Debug().Err(err).Int("line", lineNum).Msg("skipping leaderboard line")
				break
			}
			score.MapMD5 = mapMD5
			score.Server = server
			lb.Scores = append(lb.Scores, score)
		}
		lineNum++
	}
	if err := scanner.Err(); err != nil {
		return lb, fmt.Errorf("failed to read leaderboard: %w", err)
	}

	return lb, nil
}

func parseHeader(line string) MapInfo {
	fields := strings.SplitN(line, "|", 7)
	get := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return ""
	}
	return MapInfo{
		RankedStatus:  atoi32(get(0)),
		ServerHasOsz2: get(1) == "true",
		BeatmapID:     atoi32(get(2)),
		BeatmapSetID:  atoi32(get(3)),
		NbScores:      atoi32(get(4)),
	}
}

// ParseScoreLine parses
// id|name|score|combo|n50|n100|n300|miss|katu|geki|perfect|mods|user_id|rank|timestamp|...
func ParseScoreLine(line string) (Score, error) {
	tokens := strings.Split(line, "|")
	if len(tokens) < minScoreFields {
		return Score{}, fmt.Errorf("score line has %d fields, want %d", len(tokens), minScoreFields)
	}

	return Score{
		ID:         atou64(tokens[0]),
		PlayerName: tokens[1],
		Score:      atou64(tokens[2]),
		MaxCombo:   atoi32(tokens[3]),
		Num50:      atoi32(tokens[4]),
		Num100:     atoi32(tokens[5]),
		Num300:     atoi32(tokens[6]),
		NumMiss:    atoi32(tokens[7]),
		NumKatu:    atoi32(tokens[8]),
		NumGeki:    atoi32(tokens[9]),
		Perfect:    tokens[10] == "1",
		Mods:       uint32(atou64(tokens[11])),
		PlayerID:   atoi32(tokens[12]),
		Timestamp:  int64(atou64(tokens[14])),
		Client:     "peppy-unknown",
	}, nil
}

// atoi32 parses like strtol: garbage is zero.
func atoi32(s string) int32 {
	v, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
	return int32(v)
}

func atou64(s string) uint64 {
	v, _ := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	return v
}
