package rabbitmq

// QueueConfig связывает очередь с ключом маршрутизации.
type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// Ключи маршрутизации почтовых уведомлений.
const (
	EmailRoutingKey = "email"
	EmailQueue      = "notification.email"
)

// GetNotificationQueues возвращает очереди почтовых уведомлений:
// подтверждение почты, сброс пароля и письма о статусе подписки идут
// через одну очередь.
func GetNotificationQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: EmailQueue, RoutingKey: EmailRoutingKey},
	}
}
