package notifier

import (
	"fmt"
	"strconv"

	gomail "gopkg.in/gomail.v2"
)

// EmailNotifier sends HTML notices over SMTP.
type EmailNotifier struct {
	Host      string
	Port      int
	User      string
	Pass      string
	Recipient string

	// send is swappable in tests; defaults to gomail's DialAndSend.
	send func(m *gomail.Message) error
}

func NewEmailNotifier(host, port, user, pass, recipient string) (*EmailNotifier, error) {
	p, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("invalid email port %q: %w", port, err)
	}
	n := &EmailNotifier{Host: host, Port: p, User: user, Pass: pass, Recipient: recipient}
	n.send = func(m *gomail.Message) error {
		return gomail.NewDialer(n.Host, n.Port, n.User, n.Pass).DialAndSend(m)
	}
	return n, nil
}

func (e *EmailNotifier) Send(subject, body string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", e.User)
	m.SetHeader("To", e.Recipient)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", "<pre>"+body+"</pre>")
	return e.send(m)
}
