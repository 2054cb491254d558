package gateway

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pquerna/otp/totp"

	"trade-executorv1/internal/model"
)

const (
	// HandshakeTimeout bounds the wait for the bridge's next-valid-order-id
	// message after the socket opens.
	HandshakeTimeout = 10 * time.Second

	// updateBuffer sizes per-order callback channels. The reader never
	// blocks: a full channel drops the update and the fill monitor's
	// poll-slice logic treats the silence as no progress.
	updateBuffer = 32
)

// wire frame shared by both directions. Type discriminates.
type frame struct {
	Type string `json:"type"`

	// auth
	ClientID string `json:"client_id,omitempty"`
	TOTP     string `json:"totp,omitempty"`

	// orders
	OrderID  int           `json:"order_id,omitempty"`
	Contract *ContractSpec `json:"contract,omitempty"`
	Order    *OrderSpec    `json:"order,omitempty"`

	// status callbacks
	Status       string  `json:"status,omitempty"`
	Filled       float64 `json:"filled,omitempty"`
	Remaining    float64 `json:"remaining,omitempty"`
	AvgFillPrice float64 `json:"avg_fill_price,omitempty"`

	// error callbacks
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// WSGateway is the websocket transport to the local brokerage bridge.
type WSGateway struct {
	url        string
	clientID   string
	totpSecret string

	mu        sync.Mutex
	conn      *websocket.Conn
	nextID    int
	subs      map[int]chan model.OrderUpdate
	handshake chan int
	done      chan struct{}

	writeMu sync.Mutex
}

// NewWSGateway creates a gateway for the bridge at url (e.g.
// "ws://127.0.0.1:7496/ws"). totpSecret is optional; when set, Connect
// authenticates the session with a generated one-time code.
func NewWSGateway(url, clientID, totpSecret string) *WSGateway {
	return &WSGateway{
		url:        url,
		clientID:   clientID,
		totpSecret: totpSecret,
		subs:       make(map[int]chan model.OrderUpdate),
	}
}

// Connect dials the bridge, authenticates, and waits for the order-id
// handshake. Fails with ErrConnectionTimeout when the bridge stays silent.
func (g *WSGateway) Connect(ctx context.Context) error {
	dialer := &websocket.Dialer{HandshakeTimeout: HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, g.url, nil)
	if err != nil {
		return fmt.Errorf("gateway dial %s: %w", g.url, err)
	}

	g.mu.Lock()
	g.conn = conn
	g.handshake = make(chan int, 1)
	g.mu.Unlock()

	if err := g.authenticate(); err != nil {
		g.Disconnect()
		return err
	}

	done := make(chan struct{})
	g.mu.Lock()
	g.done = done
	g.mu.Unlock()

	go g.readLoop(conn, done)

	select {
	case id := <-g.handshake:
		log.Printf("[gateway] connected to %s, next order id %d", g.url, id)
		return nil
	case <-time.After(HandshakeTimeout):
		g.Disconnect()
		return fmt.Errorf("%w within %s", ErrConnectionTimeout, HandshakeTimeout)
	case <-ctx.Done():
		g.Disconnect()
		return ctx.Err()
	}
}

func (g *WSGateway) authenticate() error {
	auth := frame{Type: "auth", ClientID: g.clientID}
	if g.totpSecret != "" {
		code, err := totp.GenerateCode(g.totpSecret, time.Now())
		if err != nil {
			return fmt.Errorf("gateway totp: %w", err)
		}
		auth.TOTP = code
	}
	return g.write(auth)
}

// readLoop fans inbound frames out to per-order channels until the
// connection drops. done is closed on exit so Disconnect can wait for the
// reader to let go of the socket.
func (g *WSGateway) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}

		switch f.Type {
		case "nextValidId":
			g.mu.Lock()
			g.nextID = f.OrderID
			hs := g.handshake
			g.mu.Unlock()
			select {
			case hs <- f.OrderID:
			default:
			}

		case "orderStatus":
			log.Printf("[gateway] order %d: status=%s filled=%g remaining=%g avg=%g",
				f.OrderID, f.Status, f.Filled, f.Remaining, f.AvgFillPrice)
			g.deliver(model.OrderUpdate{
				OrderID:      f.OrderID,
				Status:       model.OrderStatus(f.Status),
				Filled:       f.Filled,
				Remaining:    f.Remaining,
				AvgFillPrice: f.AvgFillPrice,
			})

		case "error":
			log.Printf("[gateway] error %d: %d - %s", f.OrderID, f.Code, f.Message)
			g.deliver(model.OrderUpdate{
				OrderID:   f.OrderID,
				ErrorCode: f.Code,
				ErrorMsg:  f.Message,
			})
		}
	}
}

// deliver hands an update to the order's channel without ever blocking the
// reader. Channels are created on demand so updates arriving before the
// waiter subscribes are buffered, not lost.
func (g *WSGateway) deliver(u model.OrderUpdate) {
	g.mu.Lock()
	ch := g.ensureSub(u.OrderID)
	g.mu.Unlock()

	select {
	case ch <- u:
	default:
		log.Printf("[gateway] WARNING: dropping update for order %d (channel full)", u.OrderID)
	}
}

// ensureSub must be called with g.mu held.
func (g *WSGateway) ensureSub(orderID int) chan model.OrderUpdate {
	ch, ok := g.subs[orderID]
	if !ok {
		ch = make(chan model.OrderUpdate, updateBuffer)
		g.subs[orderID] = ch
	}
	return ch
}

// NextOrderID allocates the next id from the handshake-seeded counter.
func (g *WSGateway) NextOrderID() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.nextID
	g.nextID++
	return id
}

// PlaceOrder submits an order frame.
func (g *WSGateway) PlaceOrder(orderID int, contract ContractSpec, order OrderSpec) error {
	return g.write(frame{Type: "placeOrder", OrderID: orderID, Contract: &contract, Order: &order})
}

// CancelOrder submits a cancel frame.
func (g *WSGateway) CancelOrder(orderID int) error {
	return g.write(frame{Type: "cancelOrder", OrderID: orderID})
}

// Updates returns the callback channel for orderID.
func (g *WSGateway) Updates(orderID int) <-chan model.OrderUpdate {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ensureSub(orderID)
}

// Release drops the order's callback channel.
func (g *WSGateway) Release(orderID int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.subs, orderID)
}

// Disconnect closes the socket if open and waits for the reader goroutine
// to exit before returning.
func (g *WSGateway) Disconnect() {
	g.mu.Lock()
	conn := g.conn
	done := g.done
	g.conn = nil
	g.done = nil
	g.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
		log.Printf("[gateway] disconnected from %s", g.url)
	}
	if done != nil {
		<-done
	}
}

func (g *WSGateway) write(f frame) error {
	g.mu.Lock()
	conn := g.conn
	g.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	return conn.WriteJSON(f)
}
