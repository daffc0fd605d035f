package twitchchat

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"time"
)

var errAuthFailed = errors.New("twitchchat: authentication failed")

// run reconnects forever with exponential backoff. Authentication failures
// force a token refresh before the next attempt when a refresher is wired.
func (a *Adapter) run(ctx context.Context) error {
	backoff := time.Second
	refreshBackoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := a.runOnce(ctx)
		if err == nil {
			backoff = time.Second
			refreshBackoff = time.Second
			continue
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return ctx.Err()
		}

		if errors.Is(err, errAuthFailed) && a.cfg.RefreshNow != nil {
			log.Printf("twitchchat: authentication failed; refreshing token")
			for {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if _, refreshErr := a.cfg.RefreshNow(ctx); refreshErr == nil {
					refreshBackoff = time.Second
					backoff = time.Second
					break
				} else {
					log.Printf("twitchchat: refresh failed: %v; retrying in %s", refreshErr, refreshBackoff)
				}
				timer := time.NewTimer(refreshBackoff)
				select {
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				case <-timer.C:
				}
				if refreshBackoff < time.Minute {
					refreshBackoff *= 2
					if refreshBackoff > time.Minute {
						refreshBackoff = time.Minute
					}
				}
			}
			continue
		}

		log.Printf("twitchchat: disconnected: %v; reconnecting in %s", err, backoff)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if backoff < 60*time.Second {
			backoff *= 2
			if backoff > 60*time.Second {
				backoff = 60 * time.Second
			}
		}
	}
}

func (a *Adapter) runOnce(ctx context.Context) error {
	token := strings.TrimSpace(a.cfg.Token)
	if a.cfg.TokenProvider != nil {
		if provided := strings.TrimSpace(a.cfg.TokenProvider()); provided != "" {
			token = provided
		}
	}
	if token == "" {
		return errors.New("twitchchat: token is required")
	}

	host := "irc.chat.twitch.tv"
	addr := host + ":6667"
	if a.cfg.UseTLS {
		addr = host + ":6697"
	}
	if strings.TrimSpace(a.cfg.Addr) != "" {
		addr = strings.TrimSpace(a.cfg.Addr)
	}

	log.Printf("twitchchat: connecting to %s (tls=%v)", addr, a.cfg.UseTLS)

	d := &net.Dialer{Timeout: 10 * time.Second}
	var conn net.Conn
	var err error
	if a.cfg.UseTLS {
		td := &tls.Dialer{NetDialer: d, Config: &tls.Config{ServerName: host}}
		conn, err = td.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))

	send := func(s string) error {
		if _, err := rw.WriteString(s + "\r\n"); err != nil {
			return err
		}
		return rw.Flush()
	}

	// close the socket when the context ends so the blocked reader unwinds
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	if err := send("PASS " + token); err != nil {
		return fmt.Errorf("send PASS: %w", err)
	}
	if err := send("NICK " + a.cfg.Nick); err != nil {
		return fmt.Errorf("send NICK: %w", err)
	}
	if err := send("CAP REQ :twitch.tv/tags twitch.tv/commands twitch.tv/membership"); err != nil {
		return fmt.Errorf("send CAP REQ: %w", err)
	}
	if err := send("JOIN #" + a.cfg.Channel); err != nil {
		return fmt.Errorf("send JOIN: %w", err)
	}
	log.Printf("twitchchat: joined #%s as %s", a.cfg.Channel, a.cfg.Nick)

	reader := rw.Reader
	readDeadline := 2 * time.Minute
	nextPing := time.Now().Add(4 * time.Minute)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
			return fmt.Errorf("set deadline: %w", err)
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				now := time.Now()
				if !now.Before(nextPing) {
					if err := send("PING :keepalive"); err != nil {
						return fmt.Errorf("send PING: %w", err)
					}
					nextPing = now.Add(4 * time.Minute)
				}
				continue
			}
			return fmt.Errorf("read: %w", err)
		}
		nextPing = time.Now().Add(4 * time.Minute)

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		if authFailure(line) {
			log.Printf("twitchchat: authentication failed per server NOTICE")
			return errAuthFailed
		}

		if strings.HasPrefix(line, "PING ") {
			if err := send("PONG " + strings.TrimPrefix(line, "PING ")); err != nil {
				return fmt.Errorf("send PONG: %w", err)
			}
			continue
		}

		if strings.Contains(line, " RECONNECT") {
			return fmt.Errorf("server requested reconnect")
		}

		a.handleLine(line)
	}
}

func authFailure(line string) bool {
	lower := strings.ToLower(line)
	if strings.Contains(lower, "login authentication failed") {
		return true
	}
	if strings.Contains(lower, "improperly formatted auth") {
		return true
	}
	if strings.Contains(lower, "authentication failed") {
		return true
	}
	return false
}
