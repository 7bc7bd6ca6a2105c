package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"chat-relay/internal/config"
	"chat-relay/internal/domain"
)

// cli_chat es un cliente de terminal contra la API: crea un chat y relaya
// cada turno en modo stream, imprimiendo los deltas a medida que llegan.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := zap.NewExample()
	defer logger.Sync()

	baseURL := strings.TrimRight(os.Getenv("CHAT_RELAY_URL"), "/")
	if baseURL == "" {
		baseURL = "http://localhost:" + cfg.HTTPPort
	}
	cli := &apiClient{baseURL: baseURL, http: &http.Client{}, logger: logger}
	reader := bufio.NewReader(os.Stdin)

	fmt.Print("Titulo del chat (enter para default): ")
	title, _ := reader.ReadString('\n')
	chat, err := cli.createChat(ctx, strings.TrimSpace(title))
	if err != nil {
		log.Fatalf("crear chat: %v", err)
	}
	fmt.Printf("Chat %s creado. Modelo: %s\n", chat.ID, modelOrDefault(os.Getenv("CHAT_MODEL")))

	fmt.Println("---- Modo Chat (escribe 'salir' para terminar) ----")
	for {
		fmt.Print("Tu > ")
		text, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if strings.EqualFold(text, "salir") || strings.EqualFold(text, "exit") {
			fmt.Println("Saliendo del chat...")
			return
		}

		fmt.Print("IA > ")
		if err := cli.streamTurn(ctx, chat.ID, text, os.Getenv("CHAT_MODEL"), os.Stdout); err != nil {
			fmt.Printf("\nerror en el turno: %v\n", err)
			continue
		}
		fmt.Println()
	}
}

func modelOrDefault(id string) string {
	if id == "" {
		return "default"
	}
	return id
}

type apiClient struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

func (c *apiClient) createChat(ctx context.Context, title string) (domain.Chat, error) {
	body, _ := json.Marshal(map[string]string{"title": title})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chats", bytes.NewReader(body))
	if err != nil {
		return domain.Chat{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Chat{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return domain.Chat{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var chat domain.Chat
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return domain.Chat{}, fmt.Errorf("decode chat: %w", err)
	}
	return chat, nil
}

// streamTurn envia el mensaje con stream=true y escribe cada delta en out.
func (c *apiClient) streamTurn(ctx context.Context, chatID, content, modelID string, out io.Writer) error {
	body, _ := json.Marshal(map[string]any{"content": content, "modelId": modelID, "stream": true})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chats/"+chatID+"/messages", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var event string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			done, err := c.handleEvent(event, data, out)
			if err != nil || done {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return errors.New("stream closed before done event")
}

func (c *apiClient) handleEvent(event, data string, out io.Writer) (bool, error) {
	switch event {
	case domain.EventInit:
		var ev domain.InitEvent
		if err := json.Unmarshal([]byte(data), &ev); err == nil {
			c.logger.Debug("turn started", zap.String("assistant_message_id", ev.AssistantMessageID))
		}
	case domain.EventUpdate:
		var ev domain.UpdateEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return false, fmt.Errorf("decode update: %w", err)
		}
		fmt.Fprint(out, ev.DeltaText)
	case domain.EventError:
		var ev domain.ErrorEvent
		_ = json.Unmarshal([]byte(data), &ev)
		fmt.Fprint(out, ev.Message)
		return true, nil
	case domain.EventDone:
		return true, nil
	}
	return false, nil
}
