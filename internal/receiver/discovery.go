package receiver

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"avbridge/internal/clock"

	"go.uber.org/zap"
)

// ErrDiscoveryBusy is returned when a discovery run is already in
// progress. Callers poll IsDiscoveryComplete and retry later.
var ErrDiscoveryBusy = errors.New("discovery already in progress")

const (
	ssdpAddress = "239.255.255.250:1900"

	// ssdpSearchTarget narrows responses to Denon/Marantz control devices.
	ssdpSearchTarget = "urn:schemas-denon-com:device:ACT-Denon:1"

	// discoveryWindow is how long unicast responses are collected.
	discoveryWindow = 3 * time.Second

	// descriptionTimeout bounds the device-description fetch.
	descriptionTimeout = 2 * time.Second

	// descriptionLimit caps how much of the description document is read;
	// the friendly name appears well within the first few KB.
	descriptionLimit = 8192

	defaultFriendlyName = "Denon/Marantz AVR"
)

// DiscoveredDevice is one receiver found on the network.
type DiscoveredDevice struct {
	Address      string `json:"address"`
	FriendlyName string `json:"friendlyName"`
}

// discovery collects unicast M-SEARCH responses on an ephemeral UDP socket.
// Responses arrive as unicast back to the requester, so the socket must not
// be bound to the multicast group.
type discovery struct {
	clk    clock.Clock
	logger *zap.Logger
	client *http.Client

	conn      *net.UDPConn
	running   bool
	startedAt time.Time
	devices   []DiscoveredDevice
	readBuf   []byte
}

func newDiscovery(clk clock.Clock, logger *zap.Logger) *discovery {
	return &discovery{
		clk:     clk,
		logger:  logger.Named("discovery"),
		client:  &http.Client{Timeout: descriptionTimeout},
		readBuf: make([]byte, 2048),
	}
}

// start sends one M-SEARCH datagram and opens the collection window.
// Previous results are cleared.
func (d *discovery) start() error {
	if d.running {
		return ErrDiscoveryBusy
	}

	d.devices = nil

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{}) // ephemeral port
	if err != nil {
		return fmt.Errorf("open discovery socket: %w", err)
	}

	dst, err := net.ResolveUDPAddr("udp4", ssdpAddress)
	if err != nil {
		conn.Close()
		return fmt.Errorf("resolve SSDP address: %w", err)
	}

	msearch := "M-SEARCH * HTTP/1.1\r\n" +
		"HOST: " + ssdpAddress + "\r\n" +
		"MAN: \"ssdp:discover\"\r\n" +
		"MX: 2\r\n" +
		"ST: " + ssdpSearchTarget + "\r\n" +
		"\r\n"

	if _, err := conn.WriteTo([]byte(msearch), dst); err != nil {
		conn.Close()
		return fmt.Errorf("send M-SEARCH: %w", err)
	}

	d.conn = conn
	d.running = true
	d.startedAt = d.clk.Now()
	d.logger.Info("SSDP discovery started")
	return nil
}

// poll drains any responses and closes the window once it elapses.
// Called once per loop tick while a discovery is running.
func (d *discovery) poll() {
	if !d.running {
		return
	}

	d.drainResponses()

	if d.clk.Since(d.startedAt) >= discoveryWindow {
		d.conn.Close()
		d.conn = nil
		d.running = false
		d.logger.Info("Discovery complete", zap.Int("devices", len(d.devices)))
	}
}

func (d *discovery) drainResponses() {
	for {
		if err := d.conn.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
			return
		}

		n, _, err := d.conn.ReadFrom(d.readBuf)
		if err != nil {
			return // deadline reached or socket error; try again next tick
		}
		if n == 0 {
			continue
		}

		d.handleResponse(string(d.readBuf[:n]))
	}
}

func (d *discovery) handleResponse(response string) {
	location := parseLocationHeader(response)
	if location == "" {
		return
	}

	host := extractHost(location)
	if host == "" {
		return
	}

	for _, dev := range d.devices {
		if dev.Address == host {
			return // duplicate within this run
		}
	}

	name := d.fetchFriendlyName(location)
	d.devices = append(d.devices, DiscoveredDevice{Address: host, FriendlyName: name})
	d.logger.Info("Discovered receiver",
		zap.String("name", name),
		zap.String("address", host))
}

// results returns the devices found so far.
func (d *discovery) results() []DiscoveredDevice {
	out := make([]DiscoveredDevice, len(d.devices))
	copy(out, d.devices)
	return out
}

// parseLocationHeader extracts the LOCATION header value from an SSDP
// response. Header names are case-insensitive.
func parseLocationHeader(response string) string {
	for _, line := range strings.Split(response, "\n") {
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(line[:idx]), "LOCATION") {
			continue
		}
		return strings.TrimSpace(line[idx+1:])
	}
	return ""
}

// extractHost pulls the host address out of a location URL like
// "http://192.168.1.100:60006/upnp/desc/aios_device.xml".
func extractHost(location string) string {
	u, err := url.Parse(location)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// fetchFriendlyName GETs the UPnP description document and extracts the
// <friendlyName> element. Any connect or parse failure falls back to a
// generic label.
func (d *discovery) fetchFriendlyName(location string) string {
	resp, err := d.client.Get(location)
	if err != nil {
		d.logger.Debug("Description fetch failed",
			zap.String("location", location), zap.Error(err))
		return defaultFriendlyName
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, descriptionLimit))
	if err != nil {
		return defaultFriendlyName
	}

	return parseFriendlyName(string(body), defaultFriendlyName)
}

// parseFriendlyName extracts the <friendlyName> element text, returning
// fallback when absent. The description documents are small and flat, so a
// substring scan is deliberate - a strict XML parse would reject the
// malformed documents some firmware versions serve.
func parseFriendlyName(body, fallback string) string {
	const openTag, closeTag = "<friendlyName>", "</friendlyName>"

	start := strings.Index(body, openTag)
	if start < 0 {
		return fallback
	}
	start += len(openTag)

	end := strings.Index(body[start:], closeTag)
	if end < 0 {
		return fallback
	}

	name := strings.TrimSpace(body[start : start+end])
	if name == "" {
		return fallback
	}
	return name
}
