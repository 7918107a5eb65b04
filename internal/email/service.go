// Package email sends customer-facing mail over SMTP.
package email

import (
	"fmt"
	"net/smtp"
)

// Service sends mail through a plain SMTP relay.
type Service struct {
	host string
	port string
	from string
}

func NewService(host, port, from string) *Service {
	return &Service{
		host: host,
		port: port,
		from: from,
	}
}

// SendReturnStatusUpdate emails a customer about a status change on their
// return request.
func (s *Service) SendReturnStatusUpdate(to string, u StatusUpdate) error {
	ref := u.RMANumber
	if ref == "" {
		ref = shortID(u.RMAID)
	}
	subject := fmt.Sprintf("Your return %s: %s", ref, statusHeadline(u.NewStatus))
	body := BuildReturnStatusBody(u)
	return s.send(to, subject, body)
}

func (s *Service) send(to, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		s.from, to, subject, body)
	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	return smtp.SendMail(addr, nil, s.from, []string{to}, []byte(msg))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
