// Package money 金额与币种精度工具，所有金额均使用 decimal 表示
package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

// 无小数位的币种（最小单位即主单位）
var zeroDecimalCurrencies = map[string]bool{
	"VND": true,
	"JPY": true,
	"KRW": true,
}

// Normalize 统一币种代码为大写
func Normalize(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// Exponent 币种小数位数
func Exponent(currency string) int32 {
	if zeroDecimalCurrencies[Normalize(currency)] {
		return 0
	}
	return 2
}

// Round 按币种精度四舍五入
func Round(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.Round(Exponent(currency))
}

// FromMinor 最小单位转主单位，例如 Stripe 的 1050 USD 分 -> 10.50
func FromMinor(minor int64, currency string) decimal.Decimal {
	return decimal.New(minor, -Exponent(currency))
}

// ToMinor 主单位转最小单位
func ToMinor(amount decimal.Decimal, currency string) int64 {
	return amount.Shift(Exponent(currency)).Round(0).IntPart()
}

// Max 取较大值
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Min 取较小值
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
