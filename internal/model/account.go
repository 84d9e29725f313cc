package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountSummary is the normalized balance view of one trading login.
type AccountSummary struct {
	Login          string          `json:"login"`
	CurrencyDigits int             `json:"currency_digits"`
	Balance        decimal.Decimal `json:"balance"`
	Credit         decimal.Decimal `json:"credit"`
	Margin         decimal.Decimal `json:"margin"`
	MarginFree     decimal.Decimal `json:"margin_free"`
	MarginLevel    decimal.Decimal `json:"margin_level"`
	MarginLeverage decimal.Decimal `json:"margin_leverage"`
	Profit         decimal.Decimal `json:"profit"`
	Storage        decimal.Decimal `json:"storage"`
	Floating       decimal.Decimal `json:"floating"`
	Equity         decimal.Decimal `json:"equity"`
}

type Profile struct {
	Login        string    `json:"login"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone"`
	Registration time.Time `json:"registration"`
}

// Deal is a closed trade from the platform mirror.
type Deal struct {
	Deal          int64           `json:"deal"`
	Login         string          `json:"login"`
	Time          time.Time       `json:"time"`
	Symbol        string          `json:"symbol"`
	Profit        decimal.Decimal `json:"profit"`
	PricePosition decimal.Decimal `json:"price_position"`
	PriceSL       decimal.Decimal `json:"price_sl"`
	PriceTP       decimal.Decimal `json:"price_tp"`
	MarketBid     decimal.Decimal `json:"market_bid"`
	MarketAsk     decimal.Decimal `json:"market_ask"`
	Volume        decimal.Decimal `json:"volume"`
}

// Position is an open position from the platform mirror.
type Position struct {
	Position     int64           `json:"position"`
	Login        string          `json:"login"`
	TimeCreate   time.Time       `json:"time_create"`
	Symbol       string          `json:"symbol"`
	Profit       decimal.Decimal `json:"profit"`
	Storage      decimal.Decimal `json:"storage"`
	PriceOpen    decimal.Decimal `json:"price_open"`
	PriceSL      decimal.Decimal `json:"price_sl"`
	PriceTP      decimal.Decimal `json:"price_tp"`
	PriceCurrent decimal.Decimal `json:"price_current"`
	Volume       decimal.Decimal `json:"volume"`
}

// BalancePoint is one day of balance history.
type BalancePoint struct {
	Date      string          `json:"date"`
	Balance   decimal.Decimal `json:"balance"`
	Timestamp int64           `json:"timestamp"`
}
