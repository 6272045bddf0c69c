package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	gorillaWS "github.com/gorilla/websocket"

	"github.com/betbot/nftmarket/internal/domain"
	"github.com/betbot/nftmarket/internal/events"
	sdk "github.com/betbot/nftmarket/pkg/sdk/http"
)

const maxEvents = 12

var (
	// 样式定义
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("2")) // 绿色

	badStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1")) // 红色

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)
)

// auctionRow 拍卖及其当前最高出价
type auctionRow struct {
	Auction domain.Auction
	Highest *domain.HighestBid
}

// model 是应用程序的状态
type model struct {
	client   *sdk.Client
	wsURL    string
	interval time.Duration

	status   sdk.Status
	listings []domain.Listing
	auctions []auctionRow
	events   []events.Event
	updated  time.Time
	err      error

	streamC <-chan events.Event
}

// tickMsg 定时器消息
type tickMsg time.Time

// snapshotMsg 一次轮询的结果
type snapshotMsg struct {
	status   sdk.Status
	listings []domain.Listing
	auctions []auctionRow
	at       time.Time
}

// eventMsg 事件流推送
type eventMsg events.Event

// streamMsg 事件流已连接
type streamMsg struct{ c <-chan events.Event }

func (m model) Init() tea.Cmd {
	return tea.Batch(pollCmd(m.client), connectStreamCmd(m.wsURL))
}

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func pollCmd(c *sdk.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return poll(ctx, c)
	}
}

func poll(ctx context.Context, c *sdk.Client) tea.Msg {
	st, err := c.Status(ctx)
	if err != nil {
		return err
	}
	fixed, err := c.AllListings(ctx, domain.AssetFixedSale)
	if err != nil {
		return err
	}
	auctions, err := c.AllListings(ctx, domain.AssetAuction)
	if err != nil {
		return err
	}

	out := snapshotMsg{status: st, at: time.Now()}
	for _, a := range fixed {
		if a.Listing != nil {
			out.listings = append(out.listings, *a.Listing)
		}
	}
	for _, a := range auctions {
		if a.Auction == nil {
			continue
		}
		row := auctionRow{Auction: *a.Auction}
		hb, err := c.HighestBidder(ctx, a.Auction.AssetID)
		switch {
		case err == nil:
			row.Highest = &hb
		case sdk.IsCode(err, "no_bids"):
		default:
			return err
		}
		out.auctions = append(out.auctions, row)
	}
	return out
}

// connectStreamCmd 连接 /v1/events，断开时 channel 关闭
func connectStreamCmd(wsURL string) tea.Cmd {
	return func() tea.Msg {
		conn, _, err := gorillaWS.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			return fmt.Errorf("event stream: %w", err)
		}
		c := make(chan events.Event, 64)
		go func() {
			defer close(c)
			defer conn.Close()
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				var ev events.Event
				if json.Unmarshal(data, &ev) == nil {
					c <- ev
				}
			}
		}()
		return streamMsg{c: c}
	}
}

func waitEventCmd(c <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-c
		if !ok {
			return fmt.Errorf("event stream closed")
		}
		return eventMsg(ev)
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "r":
			return m, pollCmd(m.client)
		}

	case tickMsg:
		return m, pollCmd(m.client)

	case snapshotMsg:
		m.status = msg.status
		m.listings = msg.listings
		m.auctions = msg.auctions
		m.updated = msg.at
		m.err = nil
		return m, tickCmd(m.interval)

	case streamMsg:
		m.streamC = msg.c
		return m, waitEventCmd(msg.c)

	case eventMsg:
		m.events = append([]events.Event{events.Event(msg)}, m.events...)
		if len(m.events) > maxEvents {
			m.events = m.events[:maxEvents]
		}
		// 有结算事件时立即刷新
		return m, tea.Batch(waitEventCmd(m.streamC), pollCmd(m.client))

	case error:
		m.err = msg
		return m, tickCmd(m.interval)
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder

	head := fmt.Sprintf("NFT Market %s  denom=%s  block=%d", m.status.Marketplace, m.status.Denom, m.status.Block.Height)
	b.WriteString(headerStyle.Render(head))
	b.WriteString("  ")
	if m.status.BreakerOpen {
		b.WriteString(badStyle.Render("SETTLEMENT PAUSED"))
	} else {
		b.WriteString(okStyle.Render("settling"))
	}
	b.WriteString("\n\n")

	b.WriteString(borderStyle.Render(renderListings(m.listings)))
	b.WriteString("\n")
	b.WriteString(borderStyle.Render(renderAuctions(m.auctions, m.status.Block)))
	b.WriteString("\n")
	b.WriteString(borderStyle.Render(renderEvents(m.events)))
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(badStyle.Render("错误: " + m.err.Error()))
		b.WriteString("\n")
	}
	footer := "按 r 刷新，q 退出"
	if !m.updated.IsZero() {
		footer = fmt.Sprintf("更新于 %s  |  %s", m.updated.Format("15:04:05"), footer)
	}
	b.WriteString(dimStyle.Render(footer))
	return b.String()
}

func renderListings(ls []domain.Listing) string {
	sorted := append([]domain.Listing(nil), ls...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AssetID < sorted[j].AssetID })

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("一口价 (%d)", len(sorted))))
	b.WriteString("\n")
	if len(sorted) == 0 {
		b.WriteString(dimStyle.Render("  none"))
		return b.String()
	}
	for _, l := range sorted {
		fmt.Fprintf(&b, "  %-16s %-14s %12s\n", l.AssetID, l.Owner, l.Price)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderAuctions(rows []auctionRow, block domain.BlockInfo) string {
	sorted := append([]auctionRow(nil), rows...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Auction.AssetID < sorted[j].Auction.AssetID })

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("拍卖 (%d)", len(sorted))))
	b.WriteString("\n")
	if len(sorted) == 0 {
		b.WriteString(dimStyle.Render("  none"))
		return b.String()
	}
	for _, r := range sorted {
		bid := dimStyle.Render("no bids")
		if r.Highest != nil {
			bid = okStyle.Render(fmt.Sprintf("%s by %s", r.Highest.Amount, r.Highest.Bidder))
		}
		state := ""
		if r.Auction.Expiration.IsExpired(block) {
			state = badStyle.Render(" ended")
		}
		fmt.Fprintf(&b, "  %-16s %-14s start %-12s %s%s\n",
			r.Auction.AssetID, r.Auction.Owner, r.Auction.StartingPrice, bid, state)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderEvents(evs []events.Event) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("事件"))
	b.WriteString("\n")
	if len(evs) == 0 {
		b.WriteString(dimStyle.Render("  waiting for events"))
		return b.String()
	}
	for _, ev := range evs {
		line := fmt.Sprintf("  %s %-8s %-16s %s", ev.Timestamp.Local().Format("15:04:05"), ev.Action, ev.AssetID, ev.Sender)
		if ev.Kind == events.KindCritical {
			line = badStyle.Render(fmt.Sprintf("  %s CRITICAL %s: %s", ev.Timestamp.Local().Format("15:04:05"), ev.RequestID, ev.Error))
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func main() {
	api := flag.String("api", envOr("NFTMARKET_API", "http://127.0.0.1:8080"), "marketplace API base URL")
	interval := flag.Duration("interval", 5*time.Second, "poll interval")
	flag.Parse()

	base := strings.TrimSuffix(*api, "/")
	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/v1/events"

	m := model{
		client:   sdk.NewClient(base, sdk.Options{RetryCount: 1}),
		wsURL:    wsURL,
		interval: *interval,
	}
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "market-watch: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
