package main

import (
	"context"
	"fmt"
	"log"

	"github.com/iridiumtao/NYU-Marketplace/internal/config"
	"github.com/iridiumtao/NYU-Marketplace/internal/model"
	"github.com/iridiumtao/NYU-Marketplace/internal/repository"
	"github.com/iridiumtao/NYU-Marketplace/internal/service"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Seeds a handful of demo students and one direct conversation with a
// short history, so the chat endpoints have something to show locally.
func main() {
	cfg := config.Load()

	db, err := gorm.Open(postgres.Open(cfg.DB.DSN()), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	ctx := context.Background()
	userRepo := repository.NewUserRepository(db)

	hashed, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("failed to hash password: %v", err)
	}

	users := make([]*model.User, 0, 5)
	for i := 1; i <= 5; i++ {
		netID := fmt.Sprintf("ab%04d", i)

		if existing, err := userRepo.FindByNetID(ctx, netID); err == nil {
			users = append(users, existing)
			continue
		}

		u := &model.User{
			NetID:    netID,
			Email:    fmt.Sprintf("%s@nyu.edu", netID),
			Name:     fmt.Sprintf("Demo Student %d", i),
			Password: string(hashed),
		}
		if err := userRepo.Create(ctx, u); err != nil {
			log.Fatalf("failed to create user %s: %v", netID, err)
		}
		users = append(users, u)
		log.Printf("created user %s (%s)", netID, u.Email)
	}

	convRepo := repository.NewConversationRepository(db)
	msgRepo := repository.NewMessageRepository(db)
	chat := service.NewChatService(convRepo, msgRepo, userRepo)

	buyer, seller := users[0], users[1]
	detail, created, err := chat.GetOrCreateDirect(ctx, buyer.ID, seller.ID)
	if err != nil {
		log.Fatalf("failed to open direct conversation: %v", err)
	}
	if !created {
		log.Printf("demo conversation already exists: %s", detail.ID)
		return
	}

	texts := []struct {
		sender *model.User
		text   string
	}{
		{buyer, "Hi! Is the desk lamp still available?"},
		{seller, "Yes! Pickup near Bobst works for me."},
		{buyer, "Great, does tomorrow around 5pm work?"},
	}

	var last *model.Message
	for _, t := range texts {
		msg, err := chat.SendMessage(ctx, detail.ID, t.sender.ID, model.SendMessageRequest{Text: t.text})
		if err != nil {
			log.Fatalf("failed to seed message: %v", err)
		}
		last = msg
	}

	// Seller has read everything; buyer still has the reply unread.
	if _, err := chat.MarkRead(ctx, detail.ID, seller.ID, last.ID); err != nil {
		log.Fatalf("failed to seed read cursor: %v", err)
	}

	log.Printf("seeded conversation %s with %d messages", detail.ID, len(texts))
}
