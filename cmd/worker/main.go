package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"rollcall/internal/config"
	"rollcall/internal/identity"
	"rollcall/internal/notify"
	"rollcall/internal/queue"
	"rollcall/internal/store"
)

// Worker drains OTP deliveries off the queue, resolves the student's
// registered address and mails the code. Delivery is best-effort: a failed
// send is logged and dropped, the student re-scans for a fresh code.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	var directory identity.Directory
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Printf("warning: db not reachable, deliveries will fail resolution: %v", err)
	} else {
		defer db.Close()
		directory = identity.NewPostgresDirectory(db.Client)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "rollcall:otp")
	}

	var mailer notify.Mailer
	if cfg.SendgridAPIKey != "" {
		mailer = notify.NewSendgridMailer(cfg.SendgridAPIKey, cfg.MailFrom, cfg.MailFromName)
		log.Println("sendgrid mailer configured")
	} else {
		mailer = notify.ConsoleMailer{}
		log.Println("SENDGRID_API_KEY not set, logging mail to console")
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for deliveries...")
	for msg := range messages {
		if msg.Type != notify.MessageType {
			continue
		}

		var d notify.Delivery
		if err := json.Unmarshal(msg.Body, &d); err != nil {
			log.Printf("bad delivery payload: %v", err)
			continue
		}

		if directory == nil {
			log.Printf("dropping delivery for %s: no directory", d.StudentID)
			continue
		}
		caller, err := directory.ResolveCaller(ctx, d.StudentID)
		if err != nil {
			log.Printf("resolve %s failed: %v", d.StudentID, err)
			continue
		}

		body := notify.OTPBody(d.Code, d.ExpiresIn)
		if err := mailer.Send(ctx, caller.Email, "Attendance verification code", body); err != nil {
			log.Printf("mail to %s failed: %v", caller.Email, err)
			continue
		}
		log.Printf("delivered code to student %s", d.StudentID)
	}

	log.Println("worker stopped")
}
