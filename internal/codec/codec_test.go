package codec

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"okxfeed/models"
)

var recvAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func decodeOne(t *testing.T, frame string, src models.Visibility) models.Event {
	t.Helper()
	msg, err := Decode([]byte(frame), src, recvAt)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(msg.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(msg.Events))
	}
	return msg.Events[0]
}

func TestDecodePong(t *testing.T) {
	msg, err := Decode([]byte("pong"), models.Public, recvAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !msg.Pong || len(msg.Events) != 0 {
		t.Fatalf("expected silent pong, got %+v", msg)
	}
}

func TestDecodeParseErrors(t *testing.T) {
	cases := map[string]string{
		"malformed":       `{"arg":{"channel":"tickers"`,
		"unknown channel": `{"arg":{"channel":"funding-rate","instId":"BTC-USDT-SWAP"},"data":[{"fundingRate":"0.0001"}]}`,
		"unknown event":   `{"event":"channel-conn-count","channel":"tickers"}`,
		"no data":         `{"arg":{"channel":"tickers","instId":"BTC-USDT"}}`,
		"scalar":          `42`,
		"ping echo":       `ping`,
		"bad decimal":     `{"arg":{"channel":"tickers","instId":"BTC-USDT"},"data":[{"instId":"BTC-USDT","last":"65k","ts":"1714564800000"}]}`,
		"missing last":    `{"arg":{"channel":"tickers","instId":"BTC-USDT"},"data":[{"instId":"BTC-USDT","ts":"1714564800000"}]}`,
		"short candle":    `{"arg":{"channel":"candle1m","instId":"BTC-USDT"},"data":[["1714564800000","1","2"]]}`,
		"bad book action": `{"arg":{"channel":"books","instId":"BTC-USDT"},"action":"merge","data":[{"asks":[],"bids":[],"ts":"1714564800000"}]}`,
	}
	for name, frame := range cases {
		t.Run(name, func(t *testing.T) {
			msg, err := Decode([]byte(frame), models.Public, recvAt)
			var perr *models.ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("expected ParseError, got %v", err)
			}
			if msg.Pong || len(msg.Events) != 0 {
				t.Fatalf("expected no events on error, got %+v", msg)
			}
		})
	}
}

func TestDecodeIsAllOrNothing(t *testing.T) {
	frame := `{"arg":{"channel":"trades","instId":"BTC-USDT"},"data":[
		{"instId":"BTC-USDT","tradeId":"1","px":"65000.1","sz":"0.5","side":"buy","ts":"1714564800000"},
		{"instId":"BTC-USDT","tradeId":"2","px":"","sz":"0.5","side":"sell","ts":"1714564800001"}]}`
	msg, err := Decode([]byte(frame), models.Public, recvAt)
	if err == nil {
		t.Fatalf("expected error, got %d events", len(msg.Events))
	}
	if len(msg.Events) != 0 {
		t.Fatalf("partial events leaked: %d", len(msg.Events))
	}
}

func TestDecodeTickerKeepsDecimalPrecision(t *testing.T) {
	frame := `{"arg":{"channel":"tickers","instId":"BTC-USDT"},"data":[{"instType":"SPOT","instId":"BTC-USDT","last":"65000.12","lastSz":"0.01","askPx":"65000.13","askSz":"1.5","bidPx":"65000.11","bidSz":"","ts":"1714564800000"}]}`
	ev := decodeOne(t, frame, models.Public)
	tk, ok := ev.(models.Ticker)
	if !ok {
		t.Fatalf("expected Ticker, got %T", ev)
	}
	if tk.Last.String() != "65000.12" {
		t.Fatalf("last = %s", tk.Last)
	}
	if tk.LastSize.String() != "0.01" {
		t.Fatalf("lastSz = %s", tk.LastSize)
	}
	if !tk.BidSize.IsZero() {
		t.Fatalf("empty optional field should be zero, got %s", tk.BidSize)
	}
	if tk.InstID != "BTC-USDT" || tk.Source != models.Public || !tk.ReceivedAt.Equal(recvAt) {
		t.Fatalf("unexpected header/inst: %+v", tk)
	}
	if tk.Time.UnixMilli() != 1714564800000 {
		t.Fatalf("ts = %v", tk.Time)
	}
}

func TestDecodeCandle(t *testing.T) {
	frame := `{"arg":{"channel":"candle1m","instId":"ETH-USDT"},"data":[["1714564800000","3000.1","3010","2990.5","3005.25","12.5","37500","37500","0"],["1714564860000","3005.25","3006","3001","3002","1","3002","3002","1"]]}`
	msg, err := Decode([]byte(frame), models.Public, recvAt)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(msg.Events) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(msg.Events))
	}
	c0 := msg.Events[0].(models.Candle)
	c1 := msg.Events[1].(models.Candle)
	if c0.Interval != models.Interval1m || c0.InstID != "ETH-USDT" {
		t.Fatalf("unexpected candle meta: %+v", c0)
	}
	if c0.Close.String() != "3005.25" || c0.Confirmed {
		t.Fatalf("unexpected first candle: close=%s confirmed=%v", c0.Close, c0.Confirmed)
	}
	if !c1.Confirmed {
		t.Fatalf("second candle should be confirmed")
	}
}

func TestDecodeOrderBook(t *testing.T) {
	frame := `{"arg":{"channel":"books","instId":"BTC-USDT"},"action":"update","data":[{"asks":[["65000.5","1.2","0","3"]],"bids":[["64999.5","0","0","0"]],"ts":"1714564800000","checksum":-855196043,"prevSeqId":122,"seqId":123}]}`
	ev := decodeOne(t, frame, models.Public)
	ob, ok := ev.(models.OrderBook)
	if !ok {
		t.Fatalf("expected OrderBook, got %T", ev)
	}
	if ob.Action != models.BookUpdate || ob.Depth != models.DepthFull {
		t.Fatalf("unexpected action/depth: %s/%d", ob.Action, ob.Depth)
	}
	if len(ob.Asks) != 1 || ob.Asks[0].Price.String() != "65000.5" || ob.Asks[0].Orders != 3 {
		t.Fatalf("unexpected asks: %+v", ob.Asks)
	}
	if ob.Checksum != -855196043 || ob.SeqID != 123 || ob.PrevSeqID != 122 {
		t.Fatalf("unexpected seq fields: %+v", ob)
	}

	snap := decodeOne(t, `{"arg":{"channel":"books5","instId":"BTC-USDT"},"data":[{"asks":[["1","2","0","1"]],"bids":[],"ts":"1714564800000"}]}`, models.Public)
	if got := snap.(models.OrderBook); got.Action != models.BookSnapshot || got.Depth != models.DepthTop5 {
		t.Fatalf("books5 should decode as top-5 snapshot: %+v", got)
	}
}

func TestDecodePrivateChannels(t *testing.T) {
	cases := []struct {
		frame string
		check func(models.Event) bool
	}{
		{
			`{"arg":{"channel":"account","uid":"1"},"data":[{"uTime":"1714564800000","totalEq":"1000.5","details":[{"ccy":"USDT","eq":"1000.5","cashBal":"1000","availBal":"900","uTime":"1714564800000"}]}]}`,
			func(ev models.Event) bool {
				a, ok := ev.(models.Account)
				return ok && a.TotalEquity.String() == "1000.5" && len(a.Details) == 1 && a.Details[0].Ccy == "USDT"
			},
		},
		{
			`{"arg":{"channel":"positions","instType":"ANY"},"data":[{"instId":"BTC-USDT-SWAP","instType":"SWAP","posId":"9","posSide":"long","mgnMode":"cross","pos":"2","avgPx":"64000","lever":"5","uTime":"1714564800000"}]}`,
			func(ev models.Event) bool {
				p, ok := ev.(models.Position)
				return ok && p.Position.String() == "2" && p.Leverage.String() == "5" && p.LiqPrice.IsZero()
			},
		},
		{
			`{"arg":{"channel":"orders","instType":"ANY"},"data":[{"instId":"BTC-USDT","ordId":"42","clOrdId":"c1","side":"buy","ordType":"market","state":"filled","px":"","sz":"0.1","fillPx":"65000.12","fillSz":"0.1","uTime":"1714564800000"}]}`,
			func(ev models.Event) bool {
				o, ok := ev.(models.Order)
				return ok && o.Price.IsZero() && o.FillPrice.String() == "65000.12" && o.State == "filled"
			},
		},
		{
			`{"arg":{"channel":"balance_and_position"},"data":[{"pTime":"1714564800000","eventType":"filled","balData":[{"ccy":"USDT","cashBal":"990","uTime":"1714564800000"}],"posData":[{"posId":"9","instId":"BTC-USDT-SWAP","pos":"3","uTime":"1714564800000"}]}]}`,
			func(ev models.Event) bool {
				b, ok := ev.(models.BalanceAndPosition)
				return ok && b.EventType == "filled" && len(b.Balances) == 1 && len(b.Positions) == 1
			},
		},
	}
	for _, tc := range cases {
		ev := decodeOne(t, tc.frame, models.Private)
		if !tc.check(ev) {
			t.Errorf("unexpected event %s: %+v", models.EventName(ev), ev)
		}
		if ev.Meta().Source != models.Private {
			t.Errorf("source not propagated for %s", models.EventName(ev))
		}
	}
}

func TestDecodeControl(t *testing.T) {
	ack := decodeOne(t, `{"event":"subscribe","arg":{"channel":"tickers","instId":"BTC-USDT"},"connId":"a4d3ae55"}`, models.Public)
	if sa, ok := ack.(models.SubscribeAck); !ok || sa.Key != models.Key(models.ChannelTickers, "BTC-USDT") || sa.ConnID != "a4d3ae55" {
		t.Fatalf("unexpected subscribe ack: %+v", ack)
	}

	unsub := decodeOne(t, `{"event":"unsubscribe","arg":{"channel":"account"}}`, models.Private)
	if ua, ok := unsub.(models.UnsubscribeAck); !ok || ua.Key.Channel != models.ChannelAccount {
		t.Fatalf("unexpected unsubscribe ack: %+v", unsub)
	}

	login := decodeOne(t, `{"event":"login","code":"0","msg":"","connId":"x"}`, models.Private)
	if la, ok := login.(models.LoginAck); !ok || !la.Success() {
		t.Fatalf("expected successful login ack, got %+v", login)
	}

	// numeric code
	errEv := decodeOne(t, `{"event":"error","code":60009,"msg":"Login failed."}`, models.Private)
	pe, ok := errEv.(models.ProtocolError)
	if !ok || pe.Code != "60009" || !pe.IsLoginFailure() {
		t.Fatalf("unexpected error event: %+v", errEv)
	}

	notice := decodeOne(t, `{"event":"notice","code":"64008","msg":"The connection will soon be closed for a service upgrade."}`, models.Public)
	if _, ok := notice.(models.Notice); !ok {
		t.Fatalf("expected Notice, got %T", notice)
	}
}

func TestEncodeLogin(t *testing.T) {
	creds := models.Credentials{APIKey: "key", Secret: "secret", Passphrase: "pass"}
	frame, err := EncodeLogin(creds, "1538054050", "sig==")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := `{"op":"login","args":[{"apiKey":"key","passphrase":"pass","timestamp":"1538054050","sign":"sig=="}]}`
	if string(frame) != want {
		t.Fatalf("got %s\nwant %s", frame, want)
	}
	if strings.Contains(string(frame), "secret") {
		t.Fatalf("secret leaked into login frame")
	}
	if _, err := EncodeLogin(models.Credentials{}, "1", "s"); !errors.Is(err, models.ErrNoCredentials) {
		t.Fatalf("expected ErrNoCredentials, got %v", err)
	}
	if got := LoginMessage("1538054050"); got != "1538054050GET/users/self/verify" {
		t.Fatalf("login message = %q", got)
	}
}

func TestEncodeTopics(t *testing.T) {
	keys := []models.SubscriptionKey{
		models.Key(models.ChannelTickers, "BTC-USDT"),
		models.Key(models.ChannelCandle1m, "ETH-USDT"),
		models.Key(models.ChannelOrders, ""),
	}
	frames, err := EncodeTopics(OpSubscribe, keys, 2)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(frames))
	}
	want0 := `{"op":"subscribe","args":[{"channel":"tickers","instId":"BTC-USDT"},{"channel":"candle1m","instId":"ETH-USDT"}]}`
	if string(frames[0]) != want0 {
		t.Fatalf("got %s\nwant %s", frames[0], want0)
	}

	var req struct {
		Op   string              `json:"op"`
		Args []map[string]string `json:"args"`
	}
	if err := json.Unmarshal(frames[1], &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.Args[0]["instType"] != "ANY" {
		t.Fatalf("orders without instId should carry instType ANY: %s", frames[1])
	}

	if _, err := EncodeTopics(OpSubscribe, []models.SubscriptionKey{models.Key(models.ChannelTickers, "")}, 0); err == nil {
		t.Fatalf("expected validation error for public key without instId")
	}
	if _, err := EncodeTopics(OpLogin, keys, 0); err == nil {
		t.Fatalf("expected error for login op")
	}
	if frames, _ := EncodeTopics(OpUnsubscribe, nil, 0); frames != nil {
		t.Fatalf("expected no frames for empty key set")
	}
}
