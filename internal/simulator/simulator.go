package simulator

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"math/rand"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"recon-ingest-go/internal/ingest"
	"recon-ingest-go/internal/monitoring"
)

// FrameServer is a stand-in for the reconstruction server: it sends a JPEG
// color frame and a 16-bit depth frame to every connected client at a fixed
// rate. A client that cannot keep up has its older pending message replaced.
type FrameServer struct {
	ln net.Listener

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn      net.Conn
	pending   chan []byte
	connected time.Time
	mu        sync.Mutex
	sent      uint64
	dropped   uint64
	bytes     uint64
}

func NewFrameServer(addr string) (*FrameServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &FrameServer{ln: ln, clients: make(map[*client]struct{})}, nil
}

func (s *FrameServer) Addr() *net.TCPAddr {
	return s.ln.Addr().(*net.TCPAddr)
}

// Serve accepts clients and streams frames of width×height at fps until ctx
// is cancelled or Close is called.
func (s *FrameServer) Serve(ctx context.Context, width, height int, fps float64) error {
	if fps <= 0 {
		fps = 30
	}
	monitoring.Logf("simulator: streaming %dx%d at %.1f fps on %s", width, height, fps, s.Addr())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		_ = s.ln.Close()
		s.dropClients()
		return nil
	})
	g.Go(func() error {
		for {
			conn, err := s.ln.Accept()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return nil
				}
				return err
			}
			s.addClient(conn)
		}
	})
	g.Go(func() error {
		ticker := time.NewTicker(time.Duration(float64(time.Second) / fps))
		defer ticker.Stop()
		var buf []byte
		for seq := 0; ; seq++ {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
			colorJPEG, depth, err := SyntheticFrame(seq, width, height)
			if err != nil {
				return err
			}
			buf = ingest.AppendMessage(buf[:0], uint32(width), uint32(height), colorJPEG, depth)
			s.forwardToAll(append([]byte(nil), buf...))
		}
	})
	return g.Wait()
}

func (s *FrameServer) Close() error {
	err := s.ln.Close()
	s.dropClients()
	return err
}

func (s *FrameServer) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *FrameServer) addClient(conn net.Conn) {
	c := &client{conn: conn, pending: make(chan []byte, 1), connected: time.Now()}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	monitoring.Logf("simulator: client %s connected", conn.RemoteAddr())

	go func() {
		for msg := range c.pending {
			n, err := conn.Write(msg)
			c.mu.Lock()
			c.bytes += uint64(n)
			if err == nil {
				c.sent++
			}
			c.mu.Unlock()
			if err != nil {
				s.removeClient(c)
				return
			}
		}
	}()
}

func (s *FrameServer) forwardToAll(msg []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.pending <- msg:
			continue
		default:
		}
		select {
		case <-c.pending:
			c.mu.Lock()
			c.dropped++
			c.mu.Unlock()
		default:
		}
		select {
		case c.pending <- msg:
		default:
		}
	}
}

func (s *FrameServer) removeClient(c *client) {
	s.mu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()
	if ok {
		s.closeClient(c)
	}
}

func (s *FrameServer) dropClients() {
	s.mu.Lock()
	clients := s.clients
	s.clients = make(map[*client]struct{})
	s.mu.Unlock()
	for c := range clients {
		s.closeClient(c)
	}
}

func (s *FrameServer) closeClient(c *client) {
	close(c.pending)
	_ = c.conn.Close()
	c.mu.Lock()
	defer c.mu.Unlock()
	monitoring.Logf("simulator: client %s disconnected: sent %d bytes (%d messages, %d dropped) over %s",
		c.conn.RemoteAddr(), c.bytes, c.sent, c.dropped, time.Since(c.connected).Round(time.Millisecond))
}

// SyntheticFrame renders frame seq: a moving color gradient as JPEG and a
// depth plane in millimetres with a bump that orbits the image center.
func SyntheticFrame(seq, width, height int) (colorJPEG, depth []byte, err error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8((x + seq) * 255 / max(width, 1)),
				G: uint8(y * 255 / max(height, 1)),
				B: uint8(seq * 4),
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, nil, err
	}

	phase := float64(seq) / 30
	cx := float64(width)/2 + float64(width)/4*math.Cos(phase)
	cy := float64(height)/2 + float64(height)/4*math.Sin(phase)
	radius := float64(min(width, height)) / 6
	depth = make([]byte, 0, 2*width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			d := 1500.0
			dx, dy := float64(x)-cx, float64(y)-cy
			if r2 := dx*dx + dy*dy; r2 < radius*radius {
				d -= 400 * (1 - r2/(radius*radius))
			}
			if rand.Intn(50) == 0 {
				d = 0
			}
			depth = binary.LittleEndian.AppendUint16(depth, uint16(d))
		}
	}
	return buf.Bytes(), depth, nil
}
