// Package rabbitmq publishes committed transfer events to a RabbitMQ topic
// exchange with publisher confirms, retries and a circuit breaker.
package rabbitmq
