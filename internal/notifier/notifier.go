// Package notifier публикует почтовые уведомления в брокер. Доставку
// писем выполняет отдельный сервис-потребитель.
package notifier

import (
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/subscription-manager/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/subscription-manager/internal/models"
)

// EmailPublisher отправляет письма в очередь почтовых уведомлений.
type EmailPublisher struct {
	ch *amqp.Channel
}

// NewEmailPublisher создает новый экземпляр EmailPublisher.
func NewEmailPublisher(ch *amqp.Channel) *EmailPublisher {
	return &EmailPublisher{ch: ch}
}

// Publish публикует сообщение с ключом почтовых уведомлений.
func (p *EmailPublisher) Publish(msg models.EmailMessage) error {
	return rabbitmq.PublishMessage(p.ch, rabbitmq.Exchange, rabbitmq.EmailRoutingKey, msg)
}
