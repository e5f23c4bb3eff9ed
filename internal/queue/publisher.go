package queue

import (
    "context"
    "encoding/json"
    "fmt"
    "sync"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "github.com/sirupsen/logrus"
)

// Publisher publishes MappingEvents to a durable fanout exchange.  The
// connection is opened lazily and reopened after a failure.  When the broker
// cannot be reached the event is handed to the fallback sink so viewers on
// this node are still updated.
type Publisher struct {
    url      string
    exchange string
    fallback Sink
    log      logrus.FieldLogger

    mu   sync.Mutex
    conn *amqp.Connection
    ch   *amqp.Channel
}

// NewPublisher builds a publisher.  fallback may be nil.
func NewPublisher(url, exchange string, fallback Sink, log logrus.FieldLogger) *Publisher {
    return &Publisher{
        url:      url,
        exchange: exchange,
        fallback: fallback,
        log:      log.WithField("component", "publisher"),
    }
}

// Publish sends ev to the exchange.  Messages are marked as persistent.
// Broker errors are logged; if a fallback is configured the event is
// delivered through it and its result returned instead.
func (p *Publisher) Publish(ctx context.Context, ev MappingEvent) error {
    err := p.publish(ctx, ev)
    if err == nil {
        return nil
    }
    p.log.WithError(err).WithField("sentence_id", ev.SentenceID).Warn("rabbitmq: publish failed")
    if p.fallback == nil {
        return err
    }
    return p.fallback.Publish(ctx, ev)
}

func (p *Publisher) publish(ctx context.Context, ev MappingEvent) error {
    body, err := json.Marshal(ev)
    if err != nil {
        return fmt.Errorf("marshal event: %w", err)
    }

    p.mu.Lock()
    defer p.mu.Unlock()

    ch, err := p.channel()
    if err != nil {
        return err
    }
    pub := amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent, // store on disk
        Timestamp:    time.Now().UTC(),
        Body:         body,
    }
    if err := ch.PublishWithContext(ctx,
        p.exchange, // fanout exchange
        "",         // routing key is ignored by fanout
        false,      // mandatory
        false,      // immediate
        pub,
    ); err != nil {
        p.reset()
        return err
    }
    return nil
}

// channel returns the open channel, dialing if needed.  Caller holds p.mu.
func (p *Publisher) channel() (*amqp.Channel, error) {
    if p.ch != nil && !p.ch.IsClosed() {
        return p.ch, nil
    }
    p.reset()

    conn, err := amqp.Dial(p.url)
    if err != nil {
        return nil, fmt.Errorf("dial: %w", err)
    }
    ch, err := conn.Channel()
    if err != nil {
        _ = conn.Close()
        return nil, fmt.Errorf("channel open: %w", err)
    }
    if err := declareExchange(ch, p.exchange); err != nil {
        _ = ch.Close()
        _ = conn.Close()
        return nil, err
    }
    p.conn, p.ch = conn, ch
    return ch, nil
}

// reset drops the current connection.  Caller holds p.mu.
func (p *Publisher) reset() {
    if p.ch != nil {
        _ = p.ch.Close()
        p.ch = nil
    }
    if p.conn != nil {
        _ = p.conn.Close()
        p.conn = nil
    }
}

// Close releases the broker connection.
func (p *Publisher) Close() error {
    p.mu.Lock()
    defer p.mu.Unlock()
    p.reset()
    return nil
}

func declareExchange(ch *amqp.Channel, name string) error {
    // Durable fanout: every bound node queue receives each event.
    if err := ch.ExchangeDeclare(
        name,     // name
        "fanout", // kind
        true,     // durable
        false,    // autoDelete
        false,    // internal
        false,    // noWait
        nil,      // args
    ); err != nil {
        return fmt.Errorf("exchange declare: %w", err)
    }
    return nil
}
