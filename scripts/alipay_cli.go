package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"gachalab/internal/config"
	"gachalab/internal/payments"
)

func main() {
	action := flag.String("action", "query", "checkout|query")
	amountFen := flag.Int64("amount_fen", 0, "checkout amount in fen")
	amountYuan := flag.String("amount_yuan", "", "checkout amount in yuan, e.g. 6.00")
	outTradeNo := flag.String("out_trade_no", "", "merchant order number")
	subject := flag.String("subject", "", "checkout subject")
	flag.Parse()

	cfg := config.Load()
	client, err := payments.NewAlipayClient(payments.AlipayConfig{
		AppID:              cfg.AlipayAppID,
		PrivateKey:         cfg.AlipayPrivateKey,
		AppCertPath:        cfg.AlipayAppCertPath,
		AlipayCertPath:     cfg.AlipayAlipayCertPath,
		AlipayRootCertPath: cfg.AlipayRootCertPath,
		Env:                cfg.AlipayEnv,
		NotifyURL:          cfg.AlipayNotifyURL,
		ReturnURL:          cfg.AlipayReturnURL,
		Subject:            cfg.AlipayOrderSubject,
	})
	if err != nil || client == nil {
		exitErr(fmt.Errorf("alipay not configured: %v", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	switch strings.ToLower(*action) {
	case "query":
		if strings.TrimSpace(*outTradeNo) == "" {
			exitErr(fmt.Errorf("out_trade_no required"))
			return
		}
		res, err := client.QueryTrade(ctx, strings.TrimSpace(*outTradeNo))
		printJSON(res)
		if err != nil {
			exitErr(err)
		}
	case "checkout":
		amount := *amountFen
		if amount <= 0 && strings.TrimSpace(*amountYuan) != "" {
			amount = yuanToFen(*amountYuan)
		}
		if amount <= 0 {
			exitErr(fmt.Errorf("amount required"))
			return
		}
		otn := strings.TrimSpace(*outTradeNo)
		if otn == "" {
			otn = fmt.Sprintf("CLI%d", time.Now().UnixMilli())
		}
		payURL, err := client.PagePay(ctx, payments.CheckoutRequest{
			OutTradeNo: otn,
			AmountFen:  amount,
			Subject:    strings.TrimSpace(*subject),
			Timeout:    cfg.OrderExpire,
		})
		if err != nil {
			exitErr(err)
			return
		}
		printJSON(map[string]string{"out_trade_no": otn, "pay_url": payURL})
	default:
		exitErr(fmt.Errorf("unknown action %q", *action))
	}
}

func yuanToFen(val string) int64 {
	d, err := decimal.NewFromString(strings.TrimSpace(val))
	if err != nil {
		return 0
	}
	return d.Shift(2).Round(0).IntPart()
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(os.Stdout, string(data))
}

func exitErr(err error) {
	_, _ = fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
