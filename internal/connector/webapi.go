package connector

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/neosu-project/neosu/internal/protocol"
)

// APIRequestType identifies a web API call. Responses carry the type of
// the request that produced them.
type APIRequestType uint8

const (
	APIGetMapLeaderboard APIRequestType = iota
	APIGetReplay
	APIMarkAsRead
	APISubmitScore
	APISubmitMap
	APIGetNeosuSettings
)

var apiRequestTypeStrings = map[APIRequestType]string{
	APIGetMapLeaderboard: "get_map_leaderboard",
	APIGetReplay:         "get_replay",
	APIMarkAsRead:        "mark_as_read",
	APISubmitScore:       "submit_score",
	APISubmitMap:         "submit_map",
	APIGetNeosuSettings:  "get_neosu_settings",
}

func (t APIRequestType) String() string {
	if s, ok := apiRequestTypeStrings[t]; ok {
		return s
	}
	return "api(" + strconv.Itoa(int(t)) + ")"
}

// RequestContext correlates a response with whatever asked for it.
type RequestContext interface {
	requestContext()
}

// LeaderboardContext is attached to GET_MAP_LEADERBOARD.
type LeaderboardContext struct {
	MapMD5 protocol.MD5Hash
}

// ReplayContext is attached to GET_REPLAY. Timestamp names the saved file.
type ReplayContext struct {
	ScoreID   int64
	MapMD5    protocol.MD5Hash
	Server    string
	Timestamp int64
}

// MarkAsReadContext is attached to MARK_AS_READ.
type MarkAsReadContext struct {
	Channel string
}

// SubmitMapContext is attached to SUBMIT_MAP.
type SubmitMapContext struct {
	MD5 protocol.MD5Hash
}

// SubmitScoreContext is attached to SUBMIT_SCORE.
type SubmitScoreContext struct {
	MapMD5 protocol.MD5Hash
}

// SettingsContext is attached to GET_NEOSU_SETTINGS.
type SettingsContext struct{}

func (LeaderboardContext) requestContext() {}
func (ReplayContext) requestContext()      {}
func (MarkAsReadContext) requestContext()  {}
func (SubmitMapContext) requestContext()   {}
func (SubmitScoreContext) requestContext() {}
func (SettingsContext) requestContext()    {}

// FormFile is one file part of a multipart form.
type FormFile struct {
	Field    string
	Filename string
	Data     []byte
}

// MultipartForm is an ordered multipart/form-data body.
type MultipartForm struct {
	fields [][2]string
	files  []FormFile
}

// NewMultipartForm creates an empty form.
func NewMultipartForm() *MultipartForm {
	return &MultipartForm{}
}

// AddField appends a text part.
func (f *MultipartForm) AddField(name, value string) *MultipartForm {
	f.fields = append(f.fields, [2]string{name, value})
	return f
}

// AddFile appends a file part.
func (f *MultipartForm) AddFile(field, filename string, data []byte) *MultipartForm {
	f.files = append(f.files, FormFile{Field: field, Filename: filename, Data: data})
	return f
}

// Encode renders the form and returns the body with its content type.
func (f *MultipartForm) Encode() ([]byte, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for _, kv := range f.fields {
		if err := writer.WriteField(kv[0], kv[1]); err != nil {
			return nil, "", fmt.Errorf("failed to write form field %s: %w", kv[0], err)
		}
	}
	for _, file := range f.files {
		part, err := writer.CreateFormFile(file.Field, file.Filename)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create form file: %w", err)
		}
		if _, err := part.Write(file.Data); err != nil {
			return nil, "", fmt.Errorf("failed to write form file %s: %w", file.Filename, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finish form: %w", err)
	}
	return body.Bytes(), writer.FormDataContentType(), nil
}

// APIRequest is a queued call to https://osu.<endpoint><Path>. Requests
// with a Form are POSTed, the rest are GETs.
type APIRequest struct {
	Type    APIRequestType
	Path    string
	Form    *MultipartForm
	Context RequestContext
}

// APIResponse is handed back to the session loop.
type APIResponse struct {
	Request    APIRequest
	StatusCode int
	Body       []byte
}

// OK reports a 2xx response with a non-empty body.
func (r *APIResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300 && len(r.Body) > 0
}

// Credentials is what web API query strings authenticate with. Under
// OAuth the username slot carries "$token" and the password slot the
// url-encoded cho-token.
type Credentials struct {
	Username    string
	PasswordMD5 string
	IsOAuth     bool
	ChoToken    string
}

// userParam returns the already escaped values of the u= and h= style
// parameters.
func (c Credentials) userParam() (string, string) {
	if c.IsOAuth {
		return "$token", url.QueryEscape(c.ChoToken)
	}
	return url.QueryEscape(c.Username), c.PasswordMD5
}

// LeaderboardPath builds the osu-osz2-getscores.php query.
func LeaderboardPath(c Credentials, mapMD5 protocol.MD5Hash, filename string, setID int32, mods uint32) string {
	u, h := c.userParam()
	return "/web/osu-osz2-getscores.php?s=0&vv=4&v=1" +
		"&c=" + mapMD5.String() +
		"&f=" + url.QueryEscape(filename) +
		"&m=0&i=" + strconv.Itoa(int(setID)) +
		"&mods=" + strconv.FormatUint(uint64(mods), 10) +
		"&h=&a=0&us=" + u +
		"&ha=" + h
}

// ReplayPath builds the osu-getreplay.php query.
func ReplayPath(c Credentials, scoreID int64) string {
	u, h := c.userParam()
	return "/web/osu-getreplay.php?m=0&c=" + strconv.FormatInt(scoreID, 10) +
		"&u=" + u +
		"&h=" + h
}

// MarkAsReadPath builds the osu-markasread.php query.
func MarkAsReadPath(c Credentials, channel string) string {
	u, h := c.userParam()
	return "/web/osu-markasread.php?u=" + u +
		"&h=" + h +
		"&channel=" + url.QueryEscape(channel)
}

// SettingsPath builds the neosu.json query.
func SettingsPath(c Credentials) string {
	u, h := c.userParam()
	return "/neosu.json?u=" + u + "&h=" + h
}

// SubmitMapPath is where REQUEST_MAP uploads go.
const SubmitMapPath = "/web/neosu-submit-map.php"

// SubmitScorePath is where finished scores are POSTed.
const SubmitScorePath = "/web/osu-submit-modular-selector.php"

// buildAPIRequest turns a queued APIRequest into an HTTP request.
func buildAPIRequest(endpoint string, req APIRequest, choToken string) (*Request, error) {
	r := &Request{
		Method:  http.MethodGet,
		URL:     "https://osu." + endpoint + req.Path,
		Header:  http.Header{},
		Timeout: apiTimeout,
	}
	r.Header.Set("User-Agent", UserAgent)

	if (req.Type == APISubmitScore || req.Type == APISubmitMap) && choToken != "" {
		r.Header.Set("token", choToken)
	}

	if req.Form != nil {
		body, contentType, err := req.Form.Encode()
		if err != nil {
			return nil, err
		}
		r.Method = http.MethodPost
		r.Body = body
		r.Header.Set("Content-Type", contentType)
	}
	return r, nil
}
