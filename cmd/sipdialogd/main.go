// Command sipdialogd registers a single SIP endpoint against a registrar
// over UDP, retrying once with digest credentials on a 401/407 challenge,
// then blocks until interrupted; the registration is not refreshed while
// it waits.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"sipdialog/dialog"
	"sipdialog/sip"
	"sipdialog/transaction"
	"sipdialog/transport"
	"sipdialog/useragent"
)

func main() {
	laddr := flag.String("ip", "127.0.0.1:5060", "local address to bind and advertise")
	registrar := flag.String("srv", "127.0.0.1:5061", "registrar address")
	username := flag.String("u", "alice", "SIP username")
	password := flag.String("p", "alice", "password")
	expires := flag.Int("expires", 1800, "registration expiry in seconds")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.StampMicro}).
		With().Timestamp().Logger().Level(zerolog.InfoLevel)

	slogHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(slogHandler))
	dialog.SetDefaultLogger(slog.Default())
	transaction.SetDefaultLogger(slog.Default())

	conn, err := net.ListenPacket("udp", *laddr)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to bind local UDP socket")
	}
	defer conn.Close()

	raddr, err := net.ResolveUDPAddr("udp", *registrar)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to resolve registrar address")
	}

	ua, err := useragent.New(
		useragent.WithUserAgent(fmt.Sprintf("sipdialogd/%s", *username)),
		useragent.WithIP(*laddr),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build user agent")
	}

	go func() {
		err := transport.ListenUDP(conn, func(msg sip.Message, _ net.Addr) {
			ua.Dispatch(msg)
		})
		if err != nil {
			log.Error().Err(err).Msg("udp listener stopped")
		}
	}()

	peer := transport.NewUDPPeer(conn, raddr)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := register(ctx, ua, peer, *laddr, *registrar, *username, *password, *expires)
	if err != nil {
		log.Fatal().Err(err).Msg("registration failed")
	}
	log.Info().Int("status", resp.StatusCode()).Msg("registered")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
}

func register(ctx context.Context, ua *useragent.UA, peer dialog.Peer, laddr, registrarAddr, username, password string, expires int) (*sip.Response, error) {
	registrarHost, _, err := net.SplitHostPort(registrarAddr)
	if err != nil {
		registrarHost = registrarAddr
	}
	aorURI, err := sip.ParseURI(fmt.Sprintf("sip:%s@%s", username, registrarHost))
	if err != nil {
		return nil, err
	}
	contactURI, err := sip.ParseURI(fmt.Sprintf("sip:%s@%s", username, laddr))
	if err != nil {
		return nil, err
	}

	from := sip.Contact{Address: aorURI.Clone(), Params: sip.NewParams()}
	from.SetTag(sip.GenBranch(16))
	to := sip.Contact{Address: aorURI, Params: sip.NewParams()}
	contact := sip.Contact{Address: contactURI, Params: sip.NewParams()}

	callID := sip.NewCallID()
	d := dialog.NewDialog(ua, sip.REGISTER, from, to, callID, peer, &contact, nil, nil, password, 0, false)
	ua.Insert(d.ID(), d)

	resp, err := d.Start(ctx, &expires)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode() == 401 || resp.StatusCode() == 407 {
		authHeader, err := d.Authorize(resp, aorURI.String(), username, password)
		if err != nil {
			return nil, err
		}
		headers := sip.NewHeaders()
		headers.Set("Authorization", authHeader)
		headers.Set("Expires", fmt.Sprintf("%d", expires))
		return d.Request(ctx, sip.REGISTER, headers, nil)
	}

	return resp, nil
}
