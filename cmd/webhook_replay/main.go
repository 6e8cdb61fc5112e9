package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"course_market/internal/domain/payment/strategy"
	"course_market/internal/pkg/config"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var httpClient *http.Client

func init() {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 500
	t.MaxIdleConnsPerHost = 500
	t.MaxConnsPerHost = 500
	httpClient = &http.Client{
		Transport: t,
		Timeout:   10 * time.Second,
	}
}

// 并发重放同一笔 VNPay IPN，验证只结算一次
func main() {
	var (
		baseURL = flag.String("url", "http://localhost:8080", "server base URL")
		orderID = flag.Uint("order", 0, "pending order id")
		amount  = flag.String("amount", "", "order final amount in VND")
		total   = flag.Int("n", 200, "number of concurrent deliveries")
		secret  = flag.String("secret", "", "vnpay hash secret, defaults to config")
		tmnCode = flag.String("tmn", "", "vnpay terminal code, defaults to config")
	)
	flag.Parse()

	if *orderID == 0 || *amount == "" {
		log.Fatal("-order and -amount are required")
	}
	cfg := vnpayConfig(*secret, *tmnCode)
	vnpay, err := strategy.NewVNPayStrategy(cfg)
	if err != nil {
		log.Fatalf("vnpay: %v", err)
	}

	query, err := buildIPN(vnpay, *orderID, decimal.RequireFromString(*amount))
	if err != nil {
		log.Fatalf("build ipn: %v", err)
	}
	target := *baseURL + "/payment/vnpay/ipn?" + query.Encode()

	fmt.Printf("重放 IPN：订单 %d，金额 %s VND，并发 %d 次\n", *orderID, *amount, *total)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		codes = make(map[string]int)
	)
	start := time.Now()
	for i := 0; i < *total; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code := deliver(target)
			mu.Lock()
			codes[code]++
			mu.Unlock()
		}()
	}
	wg.Wait()
	duration := time.Since(start)

	fmt.Println("--------------------------------------------------")
	fmt.Printf("耗时: %v\n", duration)
	keys := make([]string, 0, len(codes))
	for k := range codes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("RspCode %-8s %d\n", k, codes[k])
	}
	fmt.Printf("确认成功 (00): %d (预期: 1)\n", codes["00"])
	fmt.Println("--------------------------------------------------")
}

func vnpayConfig(secret, tmnCode string) config.VNPayConfig {
	if secret != "" && tmnCode != "" {
		return config.VNPayConfig{HashSecret: secret, TmnCode: tmnCode, PayURL: "http://localhost"}
	}
	warning, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if warning != nil {
		log.Println(warning)
	}
	cfg := config.GlobalConfig.Payment.VNPay
	if secret != "" {
		cfg.HashSecret = secret
	}
	if tmnCode != "" {
		cfg.TmnCode = tmnCode
	}
	return cfg
}

// buildIPN 复用发起支付生成的参数，补齐成功回调字段后重新签名
func buildIPN(vnpay *strategy.VNPayStrategy, orderID uint, amount decimal.Decimal) (url.Values, error) {
	res, err := vnpay.Pay(context.Background(), strategy.PayRequest{
		OrderID:     orderID,
		Amount:      amount,
		Currency:    "VND",
		Description: "webhook replay",
		ClientIP:    "127.0.0.1",
	})
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(res.RedirectURL)
	if err != nil {
		return nil, err
	}

	q := u.Query()
	q.Del("vnp_SecureHash")
	q.Set("vnp_ResponseCode", "00")
	q.Set("vnp_TransactionStatus", "00")
	q.Set("vnp_TransactionNo", uuid.NewString()[:8])
	q.Set("vnp_BankCode", "NCB")
	q.Set("vnp_PayDate", time.Now().Format("20060102150405"))
	q.Set("vnp_SecureHash", vnpay.Sign(q))
	return q, nil
}

func deliver(target string) string {
	resp, err := httpClient.Get(target)
	if err != nil {
		return "network"
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "read"
	}
	var ack struct {
		RspCode string `json:"RspCode"`
	}
	if err := json.Unmarshal(body, &ack); err != nil || ack.RspCode == "" {
		return fmt.Sprintf("http_%d", resp.StatusCode)
	}
	return ack.RspCode
}
