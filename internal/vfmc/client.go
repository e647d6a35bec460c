// Package vfmc is a client for the TJU venue facility management (vfmc)
// booking API. The API is cookie-authenticated JSON-over-HTTP with one
// quirk: list payloads come back as a JSON string nested inside the
// response envelope.
package vfmc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ResDream/TJU-vfmc-ticket/internal/booking"
	"github.com/ResDream/TJU-vfmc-ticket/internal/retry"
)

const DefaultBaseURL = "http://vfmc.tju.edu.cn"

// The portal only serves the in-WeChat browser; requests without this
// header set get bounced to the login page.
const userAgent = "Mozilla/5.0 (Linux; Android 12; Lenovo L79031 Build/SKQ1.220119.001; wv) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Version/4.0 Chrome/126.0.6478.71 Mobile Safari/537.36 " +
	"XWEB/1260037 MMWEBSDK/20240404 MMWEBID/4282 MicroMessenger/8.0.49.2600(0x2800315A) " +
	"WeChat/arm64 Weixin NetType/WIFI Language/zh_CN ABI/arm64"

// Credentials are the session cookies captured from an authenticated
// WeChat browser session.
type Credentials struct {
	WXOpenID     string `json:"wx_open_id"`
	LoginSource  string `json:"login_source"`
	JWTUserToken string `json:"jwt_user_token"`
	UserID       string `json:"user_id"`
	LoginType    string `json:"login_type"`
}

func (c Credentials) Validate() error {
	if strings.TrimSpace(c.JWTUserToken) == "" {
		return fmt.Errorf("jwt user token required")
	}
	if strings.TrimSpace(c.UserID) == "" {
		return fmt.Errorf("user id required")
	}
	return nil
}

func (c Credentials) cookies() []*http.Cookie {
	return []*http.Cookie{
		{Name: "WXOpenId", Value: c.WXOpenID},
		{Name: "LoginSource", Value: c.LoginSource},
		{Name: "JWTUserToken", Value: c.JWTUserToken},
		{Name: "UserId", Value: c.UserID},
		{Name: "LoginType", Value: c.LoginType},
	}
}

type Client struct {
	hc      *http.Client
	base    string
	creds   Credentials
	limiter *rate.Limiter
	fetch   retry.Policy

	now func() time.Time
}

type Option func(*Client)

// WithBaseURL points the client at a different host (tests, mirrors).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.base = strings.TrimRight(u, "/") }
}

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithFetchRetry overrides the availability fetch retry policy.
func WithFetchRetry(p retry.Policy) Option {
	return func(c *Client) { c.fetch = p }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

func New(creds Credentials, opts ...Option) *Client {
	c := &Client{
		hc:      &http.Client{Timeout: 10 * time.Second},
		base:    DefaultBaseURL,
		creds:   creds,
		limiter: rate.NewLimiter(rate.Limit(5), 5),
		fetch:   retry.Default(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Name() string { return "vfmc" }

// envelope is the fixed response wrapper every vfmc endpoint uses.
// resultdata is a string holding another JSON document.
type envelope struct {
	ErrorCode  int    `json:"errorcode"`
	Message    string `json:"message"`
	ResultData string `json:"resultdata"`
}

type fieldState struct {
	FieldNo     string `json:"FieldNo"`
	FieldTypeNo string `json:"FieldTypeNo"`
	FieldName   string `json:"FieldName"`
	FieldState  string `json:"FieldState"`
	BeginTime   string `json:"BeginTime"`
	EndTime     string `json:"EndTime"`
	FinalPrice  string `json:"FinalPrice"`
}

// orderItem is the booking payload; note the vendor's "Endtime" casing.
type orderItem struct {
	FieldNo     string `json:"FieldNo"`
	FieldTypeNo string `json:"FieldTypeNo"`
	FieldName   string `json:"FieldName"`
	BeginTime   string `json:"BeginTime"`
	EndTime     string `json:"Endtime"`
	Price       string `json:"Price"`
	DateAdd     int    `json:"DateAdd"`
}

// Ping probes the availability endpoint with the caller's query, without
// retries. An auth bounce or vendor error surfaces here before the
// attempt loop starts.
func (c *Client) Ping(ctx context.Context, q booking.Query) error {
	_, err := c.fetchOnce(ctx, q)
	return err
}

// FetchAvailable returns the bookable slots for q, retrying transient
// failures per the client's fetch policy.
func (c *Client) FetchAvailable(ctx context.Context, q booking.Query) ([]booking.Slot, error) {
	var out []booking.Slot
	err := c.fetch.Do(ctx, func(ctx context.Context) error {
		slots, err := c.fetchOnce(ctx, q)
		if err != nil {
			return err
		}
		out = slots
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) fetchOnce(ctx context.Context, q booking.Query) ([]booking.Slot, error) {
	params := url.Values{}
	params.Set("dateadd", strconv.Itoa(q.DateOffset))
	params.Set("TimePeriod", strconv.Itoa(int(q.TimePeriod)))
	params.Set("VenueNo", q.VenueNo)
	params.Set("FieldTypeNo", q.FieldTypeNo)
	// cache buster the web UI sends
	params.Set("_", strconv.FormatInt(c.now().UnixMilli(), 10))

	env, err := c.do(ctx, http.MethodGet, "/Field/GetVenueStateNew?"+params.Encode(), q, "", nil)
	if err != nil {
		return nil, err
	}
	if env.ErrorCode != 0 {
		return nil, fmt.Errorf("venue state query failed: errorcode=%d message=%q", env.ErrorCode, env.Message)
	}

	var fields []fieldState
	if env.ResultData != "" {
		if err := json.Unmarshal([]byte(env.ResultData), &fields); err != nil {
			return nil, retry.Permanent(fmt.Errorf("decode resultdata: %w", err))
		}
	}

	var out []booking.Slot
	for _, f := range fields {
		if f.FieldState != "0" {
			continue
		}
		out = append(out, booking.Slot{
			FieldNo:     f.FieldNo,
			FieldTypeNo: f.FieldTypeNo,
			FieldName:   f.FieldName,
			FieldState:  f.FieldState,
			BeginTime:   f.BeginTime,
			EndTime:     f.EndTime,
			Price:       f.FinalPrice,
		})
	}
	return out, nil
}

// Book submits the order for one slot. Success requires errorcode 0 AND an
// empty message; the vendor reports soft rejections (slot taken, quota
// reached) with errorcode 0 and a non-empty message.
func (c *Client) Book(ctx context.Context, q booking.Query, s booking.Slot) error {
	items := []orderItem{{
		FieldNo:     s.FieldNo,
		FieldTypeNo: s.FieldTypeNo,
		FieldName:   s.FieldName,
		BeginTime:   s.BeginTime,
		EndTime:     s.EndTime,
		Price:       s.Price,
		DateAdd:     q.DateOffset,
	}}
	checkdata, err := json.Marshal(items)
	if err != nil {
		return err
	}

	form := url.Values{}
	form.Set("checkdata", string(checkdata))
	form.Set("VenueNo", q.VenueNo)
	form.Set("OrderType", "Field")

	env, err := c.do(ctx, http.MethodPost, "/Field/OrderField", q,
		"application/x-www-form-urlencoded; charset=UTF-8", []byte(form.Encode()))
	if err != nil {
		return err
	}
	if env.ErrorCode != 0 || env.Message != "" {
		return fmt.Errorf("order rejected: errorcode=%d message=%q", env.ErrorCode, env.Message)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, q booking.Query, contentType string, body []byte) (envelope, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return envelope{}, err
	}

	var rdr io.Reader
	if body != nil {
		rdr = strings.NewReader(string(body))
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return envelope{}, err
	}

	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en-US;q=0.8,en;q=0.7")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Referer", fmt.Sprintf(
		"%s/Views/Field/FieldOrder.html?VenueNo=%s&FieldTypeNo=%s&FieldType=Field",
		c.base, q.VenueNo, q.FieldTypeNo))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for _, ck := range c.creds.cookies() {
		req.AddCookie(ck)
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return envelope{}, fmt.Errorf("vfmc %s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	b, err := io.ReadAll(res.Body)
	if err != nil {
		return envelope{}, err
	}
	if res.StatusCode >= 500 || res.StatusCode == http.StatusTooManyRequests {
		return envelope{}, fmt.Errorf("vfmc %s %s: status %d", method, path, res.StatusCode)
	}
	if res.StatusCode >= 400 {
		// 4xx means bad cookies or a bad request; retrying won't help.
		return envelope{}, retry.Permanent(fmt.Errorf("vfmc %s %s: status %d", method, path, res.StatusCode))
	}

	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return envelope{}, retry.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return env, nil
}
