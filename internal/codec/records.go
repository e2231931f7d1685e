package codec

import (
	"encoding/json"
	"fmt"

	"okxfeed/models"
)

type tickerRecord struct {
	InstType  string `json:"instType"`
	InstID    string `json:"instId"`
	Last      string `json:"last"`
	LastSz    string `json:"lastSz"`
	AskPx     string `json:"askPx"`
	AskSz     string `json:"askSz"`
	BidPx     string `json:"bidPx"`
	BidSz     string `json:"bidSz"`
	Open24h   string `json:"open24h"`
	High24h   string `json:"high24h"`
	Low24h    string `json:"low24h"`
	VolCcy24h string `json:"volCcy24h"`
	Vol24h    string `json:"vol24h"`
	Ts        string `json:"ts"`
}

func decodeTickers(raw json.RawMessage, hdr models.Header) ([]models.Event, error) {
	var recs []tickerRecord
	if err := json.Unmarshal(raw, &recs); err != nil {
		return nil, err
	}
	out := make([]models.Event, 0, len(recs))
	for i, r := range recs {
		var f fields
		ev := models.Ticker{
			Header:       hdr,
			InstID:       f.str("instId", r.InstID),
			InstType:     r.InstType,
			Last:         f.decimal("last", r.Last),
			LastSize:     f.optDecimal("lastSz", r.LastSz),
			AskPrice:     f.optDecimal("askPx", r.AskPx),
			AskSize:      f.optDecimal("askSz", r.AskSz),
			BidPrice:     f.optDecimal("bidPx", r.BidPx),
			BidSize:      f.optDecimal("bidSz", r.BidSz),
			Open24h:      f.optDecimal("open24h", r.Open24h),
			High24h:      f.optDecimal("high24h", r.High24h),
			Low24h:       f.optDecimal("low24h", r.Low24h),
			Volume24h:    f.optDecimal("vol24h", r.Vol24h),
			VolumeCcy24h: f.optDecimal("volCcy24h", r.VolCcy24h),
			Time:         f.millis("ts", r.Ts),
		}
		if f.err != nil {
			return nil, fmt.Errorf("record %d: %w", i, f.err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// Candles arrive as [ts, o, h, l, c, vol, volCcy, volCcyQuote, confirm].
func decodeCandles(raw json.RawMessage, instID string, interval models.CandleInterval, hdr models.Header) ([]models.Event, error) {
	if instID == "" {
		return nil, fmt.Errorf("arg: %w", errEmpty)
	}
	var recs [][]string
	if err := json.Unmarshal(raw, &recs); err != nil {
		return nil, err
	}
	out := make([]models.Event, 0, len(recs))
	for i, r := range recs {
		if len(r) < 6 {
			return nil, fmt.Errorf("record %d: want at least 6 columns, got %d", i, len(r))
		}
		col := func(n int) string {
			if n < len(r) {
				return r[n]
			}
			return ""
		}
		var f fields
		ev := models.Candle{
			Header:      hdr,
			InstID:      instID,
			Interval:    interval,
			Time:        f.millis("ts", r[0]),
			Open:        f.decimal("o", r[1]),
			High:        f.decimal("h", r[2]),
			Low:         f.decimal("l", r[3]),
			Close:       f.decimal("c", r[4]),
			Volume:      f.decimal("vol", r[5]),
			VolumeCcy:   f.optDecimal("volCcy", col(6)),
			VolumeQuote: f.optDecimal("volCcyQuote", col(7)),
			Confirmed:   col(8) == "1",
		}
		if f.err != nil {
			return nil, fmt.Errorf("record %d: %w", i, f.err)
		}
		out = append(out, ev)
	}
	return out, nil
}

type bookRecord struct {
	Asks      [][]string `json:"asks"`
	Bids      [][]string `json:"bids"`
	Ts        string     `json:"ts"`
	Checksum  int64      `json:"checksum"`
	SeqID     int64      `json:"seqId"`
	PrevSeqID int64      `json:"prevSeqId"`
}

func decodeBooks(raw json.RawMessage, instID string, ch models.Channel, action string, hdr models.Header) ([]models.Event, error) {
	if instID == "" {
		return nil, fmt.Errorf("arg: %w", errEmpty)
	}
	var act models.BookAction
	switch action {
	case "", "snapshot":
		// books5 pushes full snapshots without an action.
		act = models.BookSnapshot
	case "update":
		act = models.BookUpdate
	default:
		return nil, fmt.Errorf("unknown book action %q", action)
	}

	var recs []bookRecord
	if err := json.Unmarshal(raw, &recs); err != nil {
		return nil, err
	}
	out := make([]models.Event, 0, len(recs))
	for i, r := range recs {
		var f fields
		ev := models.OrderBook{
			Header:    hdr,
			InstID:    instID,
			Channel:   ch,
			Depth:     ch.Depth(),
			Action:    act,
			Asks:      levels(&f, "asks", r.Asks),
			Bids:      levels(&f, "bids", r.Bids),
			Checksum:  r.Checksum,
			SeqID:     r.SeqID,
			PrevSeqID: r.PrevSeqID,
			Time:      f.millis("ts", r.Ts),
		}
		if f.err != nil {
			return nil, fmt.Errorf("record %d: %w", i, f.err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// Levels arrive as [price, size, deprecated, orders].
func levels(f *fields, side string, raw [][]string) []models.PriceLevel {
	out := make([]models.PriceLevel, 0, len(raw))
	for i, lvl := range raw {
		name := fmt.Sprintf("%s[%d]", side, i)
		if len(lvl) < 2 {
			f.fail(name, fmt.Errorf("want at least 2 columns, got %d", len(lvl)))
			return nil
		}
		pl := models.PriceLevel{
			Price: f.decimal(name+".px", lvl[0]),
			Size:  f.decimal(name+".sz", lvl[1]),
		}
		if len(lvl) > 3 {
			pl.Orders = f.optInt(name+".orders", lvl[3])
		}
		out = append(out, pl)
	}
	return out
}

type tradeRecord struct {
	InstID  string `json:"instId"`
	TradeID string `json:"tradeId"`
	Px      string `json:"px"`
	Sz      string `json:"sz"`
	Side    string `json:"side"`
	Count   string `json:"count"`
	Ts      string `json:"ts"`
}

func decodeTrades(raw json.RawMessage, hdr models.Header) ([]models.Event, error) {
	var recs []tradeRecord
	if err := json.Unmarshal(raw, &recs); err != nil {
		return nil, err
	}
	out := make([]models.Event, 0, len(recs))
	for i, r := range recs {
		var f fields
		ev := models.Trade{
			Header:  hdr,
			InstID:  f.str("instId", r.InstID),
			TradeID: r.TradeID,
			Side:    r.Side,
			Price:   f.decimal("px", r.Px),
			Size:    f.decimal("sz", r.Sz),
			Count:   f.optInt("count", r.Count),
			Time:    f.millis("ts", r.Ts),
		}
		if f.err != nil {
			return nil, fmt.Errorf("record %d: %w", i, f.err)
		}
		out = append(out, ev)
	}
	return out, nil
}

type accountRecord struct {
	UTime       string `json:"uTime"`
	TotalEq     string `json:"totalEq"`
	IsoEq       string `json:"isoEq"`
	AdjEq       string `json:"adjEq"`
	NotionalUsd string `json:"notionalUsd"`
	MgnRatio    string `json:"mgnRatio"`
	Details     []struct {
		Ccy       string `json:"ccy"`
		Eq        string `json:"eq"`
		CashBal   string `json:"cashBal"`
		AvailBal  string `json:"availBal"`
		FrozenBal string `json:"frozenBal"`
		Upl       string `json:"upl"`
		UTime     string `json:"uTime"`
	} `json:"details"`
}

func decodeAccounts(raw json.RawMessage, hdr models.Header) ([]models.Event, error) {
	var recs []accountRecord
	if err := json.Unmarshal(raw, &recs); err != nil {
		return nil, err
	}
	out := make([]models.Event, 0, len(recs))
	for i, r := range recs {
		var f fields
		ev := models.Account{
			Header:         hdr,
			TotalEquity:    f.decimal("totalEq", r.TotalEq),
			IsolatedEquity: f.optDecimal("isoEq", r.IsoEq),
			AdjustedEquity: f.optDecimal("adjEq", r.AdjEq),
			NotionalUSD:    f.optDecimal("notionalUsd", r.NotionalUsd),
			MarginRatio:    f.optDecimal("mgnRatio", r.MgnRatio),
			UpdateTime:     f.millis("uTime", r.UTime),
		}
		ev.Details = make([]models.AccountBalance, 0, len(r.Details))
		for _, d := range r.Details {
			ev.Details = append(ev.Details, models.AccountBalance{
				Ccy:              f.str("details.ccy", d.Ccy),
				Equity:           f.optDecimal("details.eq", d.Eq),
				CashBalance:      f.optDecimal("details.cashBal", d.CashBal),
				AvailableBalance: f.optDecimal("details.availBal", d.AvailBal),
				FrozenBalance:    f.optDecimal("details.frozenBal", d.FrozenBal),
				UPL:              f.optDecimal("details.upl", d.Upl),
				UpdateTime:       f.optMillis("details.uTime", d.UTime),
			})
		}
		if f.err != nil {
			return nil, fmt.Errorf("record %d: %w", i, f.err)
		}
		out = append(out, ev)
	}
	return out, nil
}

type positionRecord struct {
	InstID   string `json:"instId"`
	InstType string `json:"instType"`
	PosID    string `json:"posId"`
	PosSide  string `json:"posSide"`
	MgnMode  string `json:"mgnMode"`
	Pos      string `json:"pos"`
	AvgPx    string `json:"avgPx"`
	Upl      string `json:"upl"`
	Lever    string `json:"lever"`
	LiqPx    string `json:"liqPx"`
	MarkPx   string `json:"markPx"`
	Margin   string `json:"margin"`
	CTime    string `json:"cTime"`
	UTime    string `json:"uTime"`
}

func decodePositions(raw json.RawMessage, hdr models.Header) ([]models.Event, error) {
	var recs []positionRecord
	if err := json.Unmarshal(raw, &recs); err != nil {
		return nil, err
	}
	out := make([]models.Event, 0, len(recs))
	for i, r := range recs {
		var f fields
		ev := models.Position{
			Header:     hdr,
			InstID:     f.str("instId", r.InstID),
			InstType:   r.InstType,
			PosID:      f.str("posId", r.PosID),
			PosSide:    r.PosSide,
			MarginMode: r.MgnMode,
			Position:   f.decimal("pos", r.Pos),
			AvgPrice:   f.optDecimal("avgPx", r.AvgPx),
			UPL:        f.optDecimal("upl", r.Upl),
			Leverage:   f.optDecimal("lever", r.Lever),
			LiqPrice:   f.optDecimal("liqPx", r.LiqPx),
			MarkPrice:  f.optDecimal("markPx", r.MarkPx),
			Margin:     f.optDecimal("margin", r.Margin),
			CreateTime: f.optMillis("cTime", r.CTime),
			UpdateTime: f.millis("uTime", r.UTime),
		}
		if f.err != nil {
			return nil, fmt.Errorf("record %d: %w", i, f.err)
		}
		out = append(out, ev)
	}
	return out, nil
}

type orderRecord struct {
	InstID    string `json:"instId"`
	InstType  string `json:"instType"`
	OrdID     string `json:"ordId"`
	ClOrdID   string `json:"clOrdId"`
	Side      string `json:"side"`
	PosSide   string `json:"posSide"`
	OrdType   string `json:"ordType"`
	State     string `json:"state"`
	Px        string `json:"px"`
	Sz        string `json:"sz"`
	FillPx    string `json:"fillPx"`
	FillSz    string `json:"fillSz"`
	AccFillSz string `json:"accFillSz"`
	AvgPx     string `json:"avgPx"`
	Fee       string `json:"fee"`
	FeeCcy    string `json:"feeCcy"`
	CTime     string `json:"cTime"`
	UTime     string `json:"uTime"`
}

func decodeOrders(raw json.RawMessage, hdr models.Header) ([]models.Event, error) {
	var recs []orderRecord
	if err := json.Unmarshal(raw, &recs); err != nil {
		return nil, err
	}
	out := make([]models.Event, 0, len(recs))
	for i, r := range recs {
		var f fields
		ev := models.Order{
			Header:        hdr,
			InstID:        f.str("instId", r.InstID),
			InstType:      r.InstType,
			OrderID:       f.str("ordId", r.OrdID),
			ClientOrderID: r.ClOrdID,
			Side:          r.Side,
			PosSide:       r.PosSide,
			OrderType:     r.OrdType,
			State:         f.str("state", r.State),
			Price:         f.optDecimal("px", r.Px),
			Size:          f.decimal("sz", r.Sz),
			FillPrice:     f.optDecimal("fillPx", r.FillPx),
			FillSize:      f.optDecimal("fillSz", r.FillSz),
			AccFillSize:   f.optDecimal("accFillSz", r.AccFillSz),
			AvgPrice:      f.optDecimal("avgPx", r.AvgPx),
			Fee:           f.optDecimal("fee", r.Fee),
			FeeCcy:        r.FeeCcy,
			CreateTime:    f.optMillis("cTime", r.CTime),
			UpdateTime:    f.millis("uTime", r.UTime),
		}
		if f.err != nil {
			return nil, fmt.Errorf("record %d: %w", i, f.err)
		}
		out = append(out, ev)
	}
	return out, nil
}

type balanceAndPositionRecord struct {
	PTime     string `json:"pTime"`
	EventType string `json:"eventType"`
	BalData   []struct {
		Ccy     string `json:"ccy"`
		CashBal string `json:"cashBal"`
		UTime   string `json:"uTime"`
	} `json:"balData"`
	PosData []struct {
		PosID    string `json:"posId"`
		InstID   string `json:"instId"`
		InstType string `json:"instType"`
		MgnMode  string `json:"mgnMode"`
		PosSide  string `json:"posSide"`
		Pos      string `json:"pos"`
		AvgPx    string `json:"avgPx"`
		UTime    string `json:"uTime"`
	} `json:"posData"`
}

func decodeBalanceAndPosition(raw json.RawMessage, hdr models.Header) ([]models.Event, error) {
	var recs []balanceAndPositionRecord
	if err := json.Unmarshal(raw, &recs); err != nil {
		return nil, err
	}
	out := make([]models.Event, 0, len(recs))
	for i, r := range recs {
		var f fields
		ev := models.BalanceAndPosition{
			Header:    hdr,
			EventType: f.str("eventType", r.EventType),
			PushTime:  f.millis("pTime", r.PTime),
			Balances:  make([]models.BalanceUpdate, 0, len(r.BalData)),
			Positions: make([]models.PositionUpdate, 0, len(r.PosData)),
		}
		for _, b := range r.BalData {
			ev.Balances = append(ev.Balances, models.BalanceUpdate{
				Ccy:         f.str("balData.ccy", b.Ccy),
				CashBalance: f.decimal("balData.cashBal", b.CashBal),
				UpdateTime:  f.optMillis("balData.uTime", b.UTime),
			})
		}
		for _, p := range r.PosData {
			ev.Positions = append(ev.Positions, models.PositionUpdate{
				PosID:      f.str("posData.posId", p.PosID),
				InstID:     f.str("posData.instId", p.InstID),
				InstType:   p.InstType,
				MarginMode: p.MgnMode,
				PosSide:    p.PosSide,
				Position:   f.decimal("posData.pos", p.Pos),
				AvgPrice:   f.optDecimal("posData.avgPx", p.AvgPx),
				UpdateTime: f.optMillis("posData.uTime", p.UTime),
			})
		}
		if f.err != nil {
			return nil, fmt.Errorf("record %d: %w", i, f.err)
		}
		out = append(out, ev)
	}
	return out, nil
}
