package payments

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	alipay "github.com/smartwalle/alipay/v3"
)

var ErrNotConfigured = errors.New("alipay not configured")

// Trade states reported by alipay.trade.query.
const (
	TradeWaitBuyerPay = "WAIT_BUYER_PAY"
	TradeSuccess      = "TRADE_SUCCESS"
	TradeFinished     = "TRADE_FINISHED"
	TradeClosed       = "TRADE_CLOSED"
	// tradeNotExist is returned until the buyer opens the cashier page.
	tradeNotExist = "ACQ.TRADE_NOT_EXIST"
)

// Gateway is the slice of Alipay the credit top-up flow needs.
type Gateway interface {
	PagePay(ctx context.Context, req CheckoutRequest) (string, error)
	QueryTrade(ctx context.Context, outTradeNo string) (*TradeResult, error)
}

type AlipayConfig struct {
	AppID              string
	PrivateKey         string
	AppCertPath        string
	AlipayCertPath     string
	AlipayRootCertPath string
	Env                string
	NotifyURL          string
	ReturnURL          string
	Subject            string
}

type AlipayClient struct {
	client *alipay.Client
	cfg    AlipayConfig
}

type CheckoutRequest struct {
	OutTradeNo string
	AmountFen  int64
	Subject    string
	Timeout    time.Duration
}

type TradeResult struct {
	OutTradeNo  string
	TradeNo     string
	TradeStatus string
	TotalAmount string
	Code        string
	Msg         string
	SubCode     string
	SubMsg      string
	ReceivedAt  time.Time
}

// Paid reports whether the buyer's money has arrived.
func (r *TradeResult) Paid() bool {
	return r != nil && (r.TradeStatus == TradeSuccess || r.TradeStatus == TradeFinished)
}

func (r *TradeResult) Closed() bool {
	return r != nil && r.TradeStatus == TradeClosed
}

// Missing means the trade has not been created on the Alipay side yet.
func (r *TradeResult) Missing() bool {
	return r != nil && r.SubCode == tradeNotExist
}

type tradeQuery struct {
	alipay.AuxParam
	AppAuthToken string `json:"-"`
	OutTradeNo   string `json:"out_trade_no"`
}

func (q tradeQuery) APIName() string {
	return "alipay.trade.query"
}

func (q tradeQuery) Params() map[string]string {
	var m = make(map[string]string)
	m["app_auth_token"] = q.AppAuthToken
	return m
}

type tradeQueryRsp struct {
	Code        string `json:"code"`
	Msg         string `json:"msg"`
	SubCode     string `json:"sub_code"`
	SubMsg      string `json:"sub_msg"`
	TradeNo     string `json:"trade_no"`
	OutTradeNo  string `json:"out_trade_no"`
	TradeStatus string `json:"trade_status"`
	TotalAmount string `json:"total_amount"`
}

// NewAlipayClient returns nil, nil when no app id or key is configured.
func NewAlipayClient(cfg AlipayConfig) (*AlipayClient, error) {
	if strings.TrimSpace(cfg.AppID) == "" || strings.TrimSpace(cfg.PrivateKey) == "" {
		return nil, nil
	}
	privateKey, err := loadKey(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Subject) == "" {
		cfg.Subject = "Gacha credits"
	}

	isProd := !strings.Contains(strings.ToLower(cfg.Env), "sandbox")
	client, err := alipay.New(cfg.AppID, privateKey, isProd)
	if err != nil {
		return nil, err
	}
	if cfg.AppCertPath == "" || cfg.AlipayCertPath == "" || cfg.AlipayRootCertPath == "" {
		return nil, errors.New("alipay cert mode requires ALIPAY_APP_CERT_PATH, ALIPAY_ALIPAY_CERT_PATH, ALIPAY_ROOT_CERT_PATH")
	}
	if err := client.LoadAppCertPublicKeyFromFile(cfg.AppCertPath); err != nil {
		return nil, err
	}
	if err := client.LoadAlipayCertPublicKeyFromFile(cfg.AlipayCertPath); err != nil {
		return nil, err
	}
	if err := client.LoadAliPayRootCertFromFile(cfg.AlipayRootCertPath); err != nil {
		return nil, err
	}
	return &AlipayClient{client: client, cfg: cfg}, nil
}

// PagePay builds the desktop cashier URL for an order.
func (c *AlipayClient) PagePay(ctx context.Context, req CheckoutRequest) (string, error) {
	if c == nil || c.client == nil {
		return "", ErrNotConfigured
	}
	if req.OutTradeNo == "" || req.AmountFen <= 0 {
		return "", errors.New("invalid checkout request")
	}
	subject := req.Subject
	if subject == "" {
		subject = c.cfg.Subject
	}
	param := alipay.TradePagePay{}
	param.NotifyURL = c.cfg.NotifyURL
	param.ReturnURL = c.cfg.ReturnURL
	param.Subject = subject
	param.OutTradeNo = req.OutTradeNo
	param.TotalAmount = FenToYuan(req.AmountFen)
	param.ProductCode = "FAST_INSTANT_TRADE_PAY"
	if req.Timeout > 0 {
		param.TimeoutExpress = timeoutExpress(req.Timeout)
	}
	payURL, err := c.client.TradePagePay(param)
	if err != nil {
		return "", err
	}
	return payURL.String(), nil
}

func (c *AlipayClient) QueryTrade(ctx context.Context, outTradeNo string) (*TradeResult, error) {
	if c == nil || c.client == nil {
		return nil, ErrNotConfigured
	}
	if outTradeNo == "" {
		return nil, errors.New("out_trade_no required")
	}
	var resp *tradeQueryRsp
	if err := c.client.Request(ctx, tradeQuery{OutTradeNo: outTradeNo}, &resp); err != nil {
		return parseTradeResult(outTradeNo, resp), err
	}
	return parseTradeResult(outTradeNo, resp), nil
}

func parseTradeResult(outTradeNo string, resp *tradeQueryRsp) *TradeResult {
	result := &TradeResult{OutTradeNo: outTradeNo, ReceivedAt: time.Now()}
	if resp == nil {
		return result
	}
	result.TradeNo = resp.TradeNo
	result.TradeStatus = resp.TradeStatus
	result.TotalAmount = resp.TotalAmount
	result.Code = resp.Code
	result.Msg = resp.Msg
	result.SubCode = resp.SubCode
	result.SubMsg = resp.SubMsg
	if resp.OutTradeNo != "" {
		result.OutTradeNo = resp.OutTradeNo
	}
	return result
}

// timeoutExpress renders whole minutes, the smallest unit Alipay accepts.
func timeoutExpress(d time.Duration) string {
	mins := int64(d / time.Minute)
	if mins < 1 {
		mins = 1
	}
	return decimal.NewFromInt(mins).String() + "m"
}

// FenToYuan renders an amount in fen as a two-decimal yuan string.
func FenToYuan(fen int64) string {
	return decimal.New(fen, -2).StringFixed(2)
}

func loadKey(val string) (string, error) {
	trimmed := strings.TrimSpace(val)
	if trimmed == "" {
		return "", errors.New("empty key")
	}
	if strings.Contains(trimmed, "PRIVATE KEY") {
		return normalizeKey(trimmed), nil
	}
	if fileExists(trimmed) {
		content, err := os.ReadFile(trimmed)
		if err != nil {
			return "", err
		}
		return normalizeKey(string(content)), nil
	}
	return normalizeKey(trimmed), nil
}

func normalizeKey(key string) string {
	key = strings.ReplaceAll(key, "\\n", "\n")
	key = strings.TrimSpace(key)
	if strings.Contains(key, "BEGIN") {
		return key
	}
	// raw base64 without a header is treated as PKCS8
	return wrapPemBlock("PRIVATE KEY", key)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

func wrapPemBlock(title, raw string) string {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', '\t', ' ':
			return -1
		}
		return r
	}, raw)
	const lineLen = 64
	var b strings.Builder
	b.WriteString("-----BEGIN " + title + "-----\n")
	for i := 0; i < len(clean); i += lineLen {
		end := i + lineLen
		if end > len(clean) {
			end = len(clean)
		}
		b.WriteString(clean[i:end])
		b.WriteString("\n")
	}
	b.WriteString("-----END " + title + "-----")
	return b.String()
}
