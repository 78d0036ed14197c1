package engine

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/restmailer/restmailer/internal/config"
	"github.com/restmailer/restmailer/internal/observability"
	"github.com/restmailer/restmailer/internal/registry"
)

// Deliverer implements spec.md §4.5's Delivery Engine: deliver(job_id) →
// bool, generalized from the teacher's Sender.deliverToDomain/deliverToHost
// down to a single recipient per job.
type Deliverer struct {
	cfg      config.MailConfig
	registry *registry.Registry
	resolver *MXResolver
	metrics  *observability.Metrics
	logger   *slog.Logger

	// smtpPort is the port dialed on every MX host, 25 in production;
	// overridable in tests against a loopback SMTP listener.
	smtpPort int
}

// NewDeliverer builds a Deliverer using httpClient for MX resolution (nil
// for http.DefaultClient). metrics may be nil, in which case no Prometheus
// collectors are recorded.
func NewDeliverer(cfg config.MailConfig, reg *registry.Registry, httpClient *http.Client, metrics *observability.Metrics, logger *slog.Logger) *Deliverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deliverer{cfg: cfg, registry: reg, resolver: NewMXResolver(httpClient), metrics: metrics, logger: logger, smtpPort: 25}
}

// Deliver reads the RuntimeItem for guid, attempts delivery, updates state
// and events, and returns true iff delivered.
func (d *Deliverer) Deliver(ctx context.Context, guid string) bool {
	item, ok := d.registry.Get(guid)
	if !ok {
		return false
	}

	domain := item.Message.RecipientDomain()
	mxHosts := d.resolver.Resolve(ctx, domain)
	if len(mxHosts) == 0 {
		d.registry.AppendEvent(guid, "mailer", fmt.Sprintf("cannot get mx servers for: %s", domain))
		d.registry.SetState(guid, registry.StateError)
		d.recordOutcome(false, fmt.Errorf("%w: %w", ErrResolutionFailure, errNoMXHosts))
		return false
	}

	d.registry.AppendEvent(guid, "mailer", fmt.Sprintf("mx servers for target_address: %s", joinHosts(mxHosts)))

	rawMessage, err := Build(&item.Message, BuildOptions{
		Guid:         guid,
		MailDomain:   d.cfg.Domain,
		ServerName:   d.cfg.ServerName,
		TsAdded:      time.Unix(item.TsAdded, 0),
		DKIMKeyPath:  d.cfg.DKIMKeyPath,
		DKIMSelector: d.cfg.DKIMSelector,
		Logger:       d.logger,
	})
	if err != nil {
		d.registry.AppendEvent(guid, "mailer", fmt.Sprintf("cannot build message: %v", err))
		d.registry.SetState(guid, registry.StateError)
		d.recordOutcome(false, fmt.Errorf("%w: building message: %v", ErrTransportFailure, err))
		return false
	}

	sendTimeoutSeconds := 30
	if item.Message.SendTimeout != nil {
		sendTimeoutSeconds = *item.Message.SendTimeout
	}
	deadline := time.Unix(item.TsAdded, 0).Add(time.Duration(sendTimeoutSeconds) * time.Second)

	remaining := append([]string(nil), mxHosts...)
	var lastErr error
	for len(remaining) > 0 {
		mxHost := remaining[0]
		remaining = remaining[1:]

		d.registry.AppendEvent(guid, "mailer", fmt.Sprintf("try mx server for send %s", mxHost))

		sent, sendErr := d.trySend(ctx, guid, mxHost, item, rawMessage)
		if sent {
			d.registry.SetState(guid, registry.StateSended)
			d.recordOutcome(true, nil)
			return true
		}
		lastErr = sendErr

		if errors.Is(sendErr, ErrRecipientRefused) {
			break
		}

		if time.Now().After(deadline) {
			d.registry.AppendEvent(guid, "mailer", "message send timeout reached")
			lastErr = fmt.Errorf("%w: %w", ErrDeadlineExceeded, sendErr)
			break
		}
	}

	if !errors.Is(lastErr, ErrRecipientRefused) && !errors.Is(lastErr, ErrDeadlineExceeded) {
		d.registry.AppendEvent(guid, "mailer", "cannot send message: all mx servers is down or timeout reached")
		lastErr = fmt.Errorf("%w: %w", ErrExhausted, lastErr)
	}

	d.registry.SetState(guid, registry.StateError)
	d.recordOutcome(false, lastErr)
	return false
}

// trySend implements spec.md §4.5's try_send subroutine against a single
// mx_host, returning (sent, err). err is nil only when sent is true;
// otherwise it wraps one of errors.go's sentinels so Deliver can classify
// the failure with errors.Is.
func (d *Deliverer) trySend(ctx context.Context, guid, mxHost string, item registry.Item, rawMessage []byte) (sent bool, err error) {
	start := time.Now()

	dial, err := NewDialer(d.cfg.Proxy, d.cfg.DefSMTPConnectTimeout)
	if err != nil {
		return false, fmt.Errorf("%w: building proxy dialer: %v", ErrConnectFailure, err)
	}
	if d.cfg.Proxy != "" {
		d.registry.AppendEvent(guid, "smtp", fmt.Sprintf("[%s] using proxy from configuration for smtp connection", mxHost))
	}

	client := NewSMTPClient(dial, d.cfg.DefSMTPConnectTimeout, d.cfg.ServerName)

	if err := client.Connect(ctx, mxHost, d.smtpPort); err != nil {
		d.registry.AppendEvent(guid, "smtp", fmt.Sprintf("[%s] cannot connect to mx server %v", mxHost, err))
		d.recordConnection(mxHost, "failure")
		return false, fmt.Errorf("%w: %v", ErrConnectFailure, err)
	}
	defer client.Quit()
	d.recordConnection(mxHost, "success")

	caps, err := client.Ehlo(d.cfg.ServerName)
	if err != nil {
		d.registry.AppendEvent(guid, "smtp", fmt.Sprintf("[%s] cannot connect to mx server %v", mxHost, err))
		return false, fmt.Errorf("%w: EHLO: %v", ErrTransportFailure, err)
	}

	if _, ok := caps["STARTTLS"]; ok {
		d.registry.AppendEvent(guid, "smtp-tls", fmt.Sprintf("[%s] STARTTLS is available, trying upgrade", mxHost))

		tlsConfig := &tls.Config{ServerName: mxHost}
		if item.Message.IgnoreStarttlsCert != nil && *item.Message.IgnoreStarttlsCert {
			tlsConfig.InsecureSkipVerify = true
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			d.registry.AppendEvent(guid, "smtp-tls", fmt.Sprintf("[%s] exception on tls upgrade: %v", mxHost, err))
			return false, err
		}
		d.registry.AppendEvent(guid, "smtp-tls", fmt.Sprintf("[%s] 220, TLS handshake complete", mxHost))
	}

	fromAddr := fmt.Sprintf("%s@%s", item.Message.FromUser, d.cfg.Domain)
	failures, err := client.SendMessage(fromAddr, rawMessage, []string{item.Message.AddressTo})
	if err != nil {
		d.registry.AppendEvent(guid, "smtp", fmt.Sprintf("[%s] send mail error %v", mxHost, err))
		return false, err
	}

	if len(failures) == 0 {
		elapsed := time.Now().Unix() - item.TsAdded
		d.registry.AppendEvent(guid, "smtp", fmt.Sprintf("[%s] mail sended successfully in %ds", mxHost, elapsed))
		if d.metrics != nil {
			d.metrics.EmailSendDuration.Observe(time.Since(start).Seconds())
		}
		return true, nil
	}

	encoded, _ := json.Marshal(failures)
	d.registry.AppendEvent(guid, "smtp", fmt.Sprintf("[%s] mail have some errors on send: %s", mxHost, encoded))
	return false, fmt.Errorf("%w: %d recipient(s) rejected", ErrRecipientRefused, len(failures))
}

// recordConnection records an SMTP connection attempt's outcome, a no-op
// when metrics is nil.
func (d *Deliverer) recordConnection(mxHost, result string) {
	if d.metrics != nil {
		d.metrics.SMTPConnectionsTotal.WithLabelValues(mxHost, result).Inc()
	}
}

// recordOutcome records the terminal outcome of a Deliver call, a no-op
// when metrics is nil.
func (d *Deliverer) recordOutcome(sent bool, err error) {
	if d.metrics == nil {
		return
	}
	if sent {
		d.metrics.EmailsSentTotal.WithLabelValues("sent").Inc()
		return
	}
	d.metrics.EmailsSentTotal.WithLabelValues(classifyFailure(err)).Inc()
}

// classifyFailure maps a wrapped sentinel error from errors.go to the
// EmailsSentTotal "status" label.
func classifyFailure(err error) string {
	switch {
	case errors.Is(err, ErrResolutionFailure):
		return "resolution_failure"
	case errors.Is(err, ErrRecipientRefused):
		return "recipient_refused"
	case errors.Is(err, ErrDeadlineExceeded):
		return "deadline_exceeded"
	case errors.Is(err, ErrExhausted):
		return "exhausted"
	case errors.Is(err, ErrTLSFailure):
		return "tls_failure"
	case errors.Is(err, ErrConnectFailure):
		return "connect_failure"
	case errors.Is(err, ErrTransportFailure):
		return "transport_failure"
	default:
		return "error"
	}
}

func joinHosts(hosts []string) string {
	out := ""
	for i, h := range hosts {
		if i > 0 {
			out += ", "
		}
		out += h
	}
	return out
}
