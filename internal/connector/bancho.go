package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/neosu-project/neosu/internal/events"
	"github.com/neosu-project/neosu/internal/protocol"
	"github.com/neosu-project/neosu/internal/telemetry"
	"github.com/neosu-project/neosu/internal/util"
)

// Keepalive polling bounds.
const (
	minPingInterval  = time.Second
	roomPingInterval = 3 * time.Second
	maxPingInterval  = 30 * time.Second
)

// pingFrame trails every POST.
var pingFrame = protocol.Frame(protocol.ReqPing, nil)

// ErrHTTPStatus marks a Bancho reply outside the 2xx range.
var ErrHTTPStatus = errors.New("unexpected status")

// ScorePolicy is the server's stance on score submission, announced in
// the x-mcosu-features header.
type ScorePolicy int32

const (
	PolicyNoPreference ScorePolicy = iota
	PolicyYes
	PolicyNo
)

func (p ScorePolicy) String() string {
	switch p {
	case PolicyYes:
		return "yes"
	case PolicyNo:
		return "no"
	default:
		return "no_preference"
	}
}

// MarshalJSON serializes ScorePolicy as a JSON string.
func (p ScorePolicy) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// Features is what the server enabled through x-mcosu-features. A policy
// of PolicyNoPreference means the header did not mention submission.
type Features struct {
	Policy ScorePolicy `json:"policy"`
	FPoSu  bool        `json:"fposu"`
	Mirror bool        `json:"mirror"`
}

// ParseFeatures reads an x-mcosu-features header value.
func ParseFeatures(header string) Features {
	var f Features
	switch {
	case strings.Contains(header, "submit=0"):
		f.Policy = PolicyNo
	case strings.Contains(header, "submit=1"):
		f.Policy = PolicyYes
	}
	f.FPoSu = strings.Contains(header, "fposu=1")
	f.Mirror = strings.Contains(header, "mirror=1")
	return f
}

// Session is the slice of session state the pump needs. UserID,
// AuthHeader, SetAuthHeader and ApplyFeatures are called from transport
// goroutines and must be safe for concurrent use. The rest is only called
// from Update, on the session loop.
type Session interface {
	UserID() int32
	Endpoint() string
	IsInLobbyOrSpectating() bool
	IsInRoom() bool

	// TakeLoginBody returns the pending login request once.
	TakeLoginBody() ([]byte, bool)

	AuthHeader() string
	SetAuthHeader(token string)
	ApplyFeatures(f Features)
}

// PumpStatus is a snapshot for the status API.
type PumpStatus struct {
	PingInterval time.Duration `json:"ping_interval"`
	Outgoing     int           `json:"outgoing_bytes"`
	Incoming     int           `json:"incoming_packets"`
	APIRequests  int           `json:"api_requests"`
	APIResponses int           `json:"api_responses"`
	InFlight     bool          `json:"in_flight"`
}

// Pump accumulates outgoing packets, polls Bancho over HTTP and queues
// what comes back for the session loop. At most one Bancho POST is in
// flight at a time so responses are applied in send order.
type Pump struct {
	session   Session
	transport Transport
	bus       events.Emitter
	metrics   *telemetry.Metrics
	version   string
	logger    zerolog.Logger

	limiter  *rate.Limiter
	lastSend time.Time // session loop only
	interval atomic.Int64
	busy     atomic.Bool
	wg       sync.WaitGroup

	outMu    sync.Mutex
	outgoing *protocol.PacketBuilder

	inMu     sync.Mutex
	incoming []*protocol.Packet

	reqMu       sync.Mutex
	apiRequests []APIRequest

	respMu       sync.Mutex
	apiResponses []APIResponse
}

// NewPump creates a pump. bus and metrics may be nil.
func NewPump(session Session, transport Transport, bus events.Emitter, metrics *telemetry.Metrics) *Pump {
	p := &Pump{
		session:   session,
		transport: transport,
		bus:       bus,
		metrics:   metrics,
		version:   util.Version,
		logger:    util.ComponentLogger("net"),
		limiter:   rate.NewLimiter(rate.Every(time.Millisecond), 1),
		outgoing:  protocol.NewPacketBuilder(),
	}
	p.interval.Store(int64(minPingInterval))
	return p
}

// PingInterval returns the current keepalive interval.
func (p *Pump) PingInterval() time.Duration {
	return time.Duration(p.interval.Load())
}

// Update runs one pump step. It must be called from the session loop; it
// does nothing if called again within a millisecond.
func (p *Pump) Update(ctx context.Context, now time.Time) {
	if !p.limiter.AllowN(now, 1) {
		return
	}

	if req, ok := p.popAPIRequest(); ok {
		p.fireAPIRequest(ctx, req)
	}

	interval := p.adjustPingInterval()
	userID := p.session.UserID()
	shouldPing := userID > 0 && now.Sub(p.lastSend) > interval

	if !p.busy.CompareAndSwap(false, true) {
		return
	}

	var body []byte
	kind := "bancho"
	if userID <= 0 {
		if login, ok := p.session.TakeLoginBody(); ok {
			body = login
			kind = "login"
		}
	}

	if body == nil {
		p.outMu.Lock()
		if shouldPing && p.outgoing.Len() == 0 {
			p.outgoing.WriteBytes(pingFrame)
			// polling slows down while idle and resets when data arrives
			if interval < maxPingInterval {
				p.interval.Store(int64(interval + time.Second))
			}
		}
		if p.outgoing.Len() > 0 {
			p.outgoing.WriteBytes(pingFrame)
			body = p.outgoing.Build()
			p.outgoing = protocol.NewPacketBuilder()
		}
		p.outMu.Unlock()
	}

	p.updateGauges()

	if body == nil {
		p.busy.Store(false)
		return
	}

	p.lastSend = now
	endpoint := p.session.Endpoint()
	token := p.session.AuthHeader()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.busy.Store(false)
		p.post(ctx, kind, endpoint, token, body)
	}()
}

func (p *Pump) adjustPingInterval() time.Duration {
	interval := time.Duration(p.interval.Load())
	if p.session.IsInLobbyOrSpectating() {
		interval = minPingInterval
	}
	if p.session.IsInRoom() && interval > roomPingInterval {
		interval = roomPingInterval
	}
	p.interval.Store(int64(interval))
	return interval
}

func (p *Pump) banchoRequest(endpoint, token string, body []byte, timeout time.Duration) *Request {
	req := &Request{
		Method:  http.MethodPost,
		URL:     "https://c." + endpoint + "/",
		Header:  http.Header{},
		Body:    body,
		Timeout: timeout,
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("x-mcosu-ver", p.version)
	if token != "" {
		req.Header.Set("osu-token", token)
	}
	return req
}

// post runs on a transport goroutine.
func (p *Pump) post(ctx context.Context, kind, endpoint, token string, body []byte) {
	start := time.Now()
	resp, err := p.transport.Do(ctx, p.banchoRequest(endpoint, token, body, banchoTimeout))
	if err == nil && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		// the body of an error page is not a packet stream
		err = fmt.Errorf("%w: HTTP %d", ErrHTTPStatus, resp.StatusCode)
	}
	p.observe(kind, start, err)
	if p.metrics != nil {
		p.metrics.BytesSent.Add(float64(len(body)))
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		p.logger.Warn().Err(err).Str("kind", kind).Str("endpoint", endpoint).Msg("failed to send packets")
		if p.session.AuthHeader() == "" {
			p.toast("Failed to log in: " + err.Error())
		}
		return
	}

	p.handleResponse(resp)
}

func (p *Pump) handleResponse(resp *Response) {
	if token := resp.Header.Get("cho-token"); token != "" {
		p.session.SetAuthHeader(token)
	}
	if features := resp.Header.Get("x-mcosu-features"); features != "" {
		f := ParseFeatures(features)
		p.logger.Debug().Str("policy", f.Policy.String()).Bool("fposu", f.FPoSu).Bool("mirror", f.Mirror).
			Msg("server features")
		p.session.ApplyFeatures(f)
	}
	if p.metrics != nil {
		p.metrics.BytesRecv.Add(float64(len(resp.Body)))
	}

	packets, err := protocol.ReadFrames(resp.Body)
	if err != nil {
		p.logger.Warn().Err(err).Int("parsed", len(packets)).Msg("malformed bancho response")
	}
	if len(packets) == 0 {
		return
	}

	p.inMu.Lock()
	p.incoming = append(p.incoming, packets...)
	p.inMu.Unlock()

	p.interval.Store(int64(minPingInterval))
}

func (p *Pump) observe(kind string, start time.Time, err error) {
	if p.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.metrics.HTTPRequests.WithLabelValues(kind, result).Inc()
	p.metrics.HTTPDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

func (p *Pump) updateGauges() {
	if p.metrics == nil {
		return
	}
	s := p.Status()
	p.metrics.QueueDepth.WithLabelValues("outgoing").Set(float64(s.Outgoing))
	p.metrics.QueueDepth.WithLabelValues("incoming").Set(float64(s.Incoming))
	p.metrics.QueueDepth.WithLabelValues("api_requests").Set(float64(s.APIRequests))
	p.metrics.QueueDepth.WithLabelValues("api_responses").Set(float64(s.APIResponses))
	p.metrics.PingInterval.Set(s.PingInterval.Seconds())
}

func (p *Pump) toast(msg string) {
	if p.bus == nil {
		return
	}
	p.bus.Emit(context.Background(), events.Event{
		Type:    events.EventToast,
		Source:  "net",
		Payload: events.ToastPayload{Level: events.ToastError, Message: msg},
	})
}

// SendPacket queues a framed packet for the next POST. Packets are
// dropped while logged out.
func (p *Pump) SendPacket(id uint16, payload []byte) {
	if p.session.UserID() <= 0 {
		return
	}

	p.outMu.Lock()
	p.outgoing.WriteHeader(id, uint32(len(payload))).WriteBytes(payload)
	p.outMu.Unlock()

	if p.metrics != nil {
		p.metrics.PacketsSent.WithLabelValues(strconv.Itoa(int(id))).Inc()
	}
}

// SendAPIRequest queues a web API request, replacing any queued request
// of the same type.
func (p *Pump) SendAPIRequest(req APIRequest) {
	if p.session.UserID() <= 0 {
		p.logger.Debug().Str("type", req.Type.String()).Msg("not logged in, dropping api request")
		return
	}

	p.reqMu.Lock()
	defer p.reqMu.Unlock()

	kept := p.apiRequests[:0]
	for _, queued := range p.apiRequests {
		if queued.Type != req.Type {
			kept = append(kept, queued)
		}
	}
	p.apiRequests = append(kept, req)
}

func (p *Pump) popAPIRequest() (APIRequest, bool) {
	p.reqMu.Lock()
	defer p.reqMu.Unlock()
	if len(p.apiRequests) == 0 {
		return APIRequest{}, false
	}
	req := p.apiRequests[0]
	p.apiRequests = p.apiRequests[1:]
	return req, true
}

func (p *Pump) fireAPIRequest(ctx context.Context, req APIRequest) {
	httpReq, err := buildAPIRequest(p.session.Endpoint(), req, p.session.AuthHeader())
	if err != nil {
		p.logger.Warn().Err(err).Str("type", req.Type.String()).Msg("failed to build api request")
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		start := time.Now()
		resp, err := p.transport.Do(ctx, httpReq)
		p.observe("api", start, err)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				p.logger.Warn().Err(err).Str("type", req.Type.String()).Msg("api request failed")
			}
			return
		}

		p.respMu.Lock()
		p.apiResponses = append(p.apiResponses, APIResponse{
			Request:    req,
			StatusCode: resp.StatusCode,
			Body:       resp.Body,
		})
		p.respMu.Unlock()
	}()
}

// ReceiveBanchoPackets drains the incoming queue and calls handle for each
// packet in arrival order, outside the lock.
func (p *Pump) ReceiveBanchoPackets(handle func(*protocol.Packet)) {
	p.inMu.Lock()
	packets := p.incoming
	p.incoming = nil
	p.inMu.Unlock()

	for _, pkt := range packets {
		handle(pkt)
	}
}

// ReceiveAPIResponses drains the API response queue in arrival order.
func (p *Pump) ReceiveAPIResponses(handle func(APIResponse)) {
	p.respMu.Lock()
	responses := p.apiResponses
	p.apiResponses = nil
	p.respMu.Unlock()

	for _, resp := range responses {
		handle(resp)
	}
}

// Logout synchronously tells the server we are leaving. It is a no-op
// while logged out.
func (p *Pump) Logout(ctx context.Context) error {
	if p.session.UserID() <= 0 {
		return nil
	}

	body := protocol.Frame(protocol.ReqLogout, nil)
	start := time.Now()
	_, err := p.transport.Do(ctx, p.banchoRequest(p.session.Endpoint(), p.session.AuthHeader(), body, logoutTimeout))
	p.observe("logout", start, err)
	if err != nil {
		p.logger.Warn().Err(err).Msg("logout request failed")
	}
	return err
}

// Reset drops queued outgoing packets and API requests and restores the
// fastest polling interval.
func (p *Pump) Reset() {
	p.outMu.Lock()
	p.outgoing = protocol.NewPacketBuilder()
	p.outMu.Unlock()

	p.reqMu.Lock()
	p.apiRequests = nil
	p.reqMu.Unlock()

	p.interval.Store(int64(minPingInterval))
}

// Wait blocks until every in-flight request has completed.
func (p *Pump) Wait() {
	p.wg.Wait()
}

// Status returns queue sizes and the polling interval.
func (p *Pump) Status() PumpStatus {
	var s PumpStatus
	s.PingInterval = p.PingInterval()
	s.InFlight = p.busy.Load()

	p.outMu.Lock()
	s.Outgoing = p.outgoing.Len()
	p.outMu.Unlock()

	p.inMu.Lock()
	s.Incoming = len(p.incoming)
	p.inMu.Unlock()

	p.reqMu.Lock()
	s.APIRequests = len(p.apiRequests)
	p.reqMu.Unlock()

	p.respMu.Lock()
	s.APIResponses = len(p.apiResponses)
	p.respMu.Unlock()

	return s
}
