package models

// EmailMessage - сообщение для очереди почтовых уведомлений.
// Публикуется движком аутентификации и доставляется отдельным
// сервисом-отправителем, движок не ждёт результата доставки.
type EmailMessage struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}
