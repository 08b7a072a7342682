// Консольный SIP клиент: регистрация, вызовы, журнал истории.
//
// Конфигурация читается из YAML файла (флаг -config). Команды
// вводятся построчно: call <number>, answer, reject, hangup, mute,
// hold, status, history, clear-history, quit.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arzzra/voip_client/pkg/audio"
	"github.com/arzzra/voip_client/pkg/history"
	"github.com/arzzra/voip_client/pkg/sipgate"
	"github.com/arzzra/voip_client/pkg/softphone"
	"github.com/arzzra/voip_client/pkg/state"
)

// fileConfig структура YAML конфигурации клиента
type fileConfig struct {
	Account struct {
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		Domain   string `yaml:"domain"`
	} `yaml:"account"`

	Transport struct {
		Protocol   string `yaml:"protocol"`
		ListenAddr string `yaml:"listen_addr"`
		ListenPort int    `yaml:"listen_port"`
		RTPPort    int    `yaml:"rtp_port"`
	} `yaml:"transport"`

	Engine struct {
		AnswerTimeoutSec   int    `yaml:"answer_timeout_sec"`
		RefreshIntervalSec int    `yaml:"refresh_interval_sec"`
		LogLevel           string `yaml:"log_level"`
	} `yaml:"engine"`

	HistoryDB string `yaml:"history_db"`
}

func loadConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения конфигурации: %w", err)
	}
	cfg := &fileConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора конфигурации: %w", err)
	}
	return cfg, nil
}

func main() {
	configPath := flag.String("config", "config.yaml", "путь к YAML конфигурации")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "ошибка:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logLevel := softphone.ParseLogLevel(cfg.Engine.LogLevel)
	logger := softphone.NewTextLogger(os.Stderr, logLevel)

	gateCfg := sipgate.DefaultConfig()
	gateCfg.Username = cfg.Account.Username
	gateCfg.Password = cfg.Account.Password
	gateCfg.Domain = cfg.Account.Domain
	if cfg.Transport.Protocol != "" {
		gateCfg.Protocol = cfg.Transport.Protocol
	}
	if cfg.Transport.ListenAddr != "" {
		gateCfg.ListenAddr = cfg.Transport.ListenAddr
	}
	if cfg.Transport.ListenPort != 0 {
		gateCfg.ListenPort = cfg.Transport.ListenPort
	}
	if cfg.Transport.RTPPort != 0 {
		gateCfg.RTPPort = cfg.Transport.RTPPort
	}

	gate, err := sipgate.New(gateCfg, sipgate.WithLogger(logger))
	if err != nil {
		return err
	}

	engineCfg := softphone.DefaultConfig()
	if cfg.Engine.AnswerTimeoutSec > 0 {
		engineCfg.AnswerTimeout = time.Duration(cfg.Engine.AnswerTimeoutSec) * time.Second
	}
	if cfg.Engine.RefreshIntervalSec > 0 {
		engineCfg.RefreshInterval = time.Duration(cfg.Engine.RefreshIntervalSec) * time.Second
	}
	if cfg.Engine.LogLevel != "" {
		engineCfg.LogLevel = strings.ToUpper(cfg.Engine.LogLevel)
	}

	opts := []softphone.PhoneOption{
		softphone.WithLogger(logger),
		softphone.WithNotifier(audio.NewBellNotifier(os.Stdout, 2*time.Second)),
		softphone.WithMetrics(softphone.NewMetrics(nil)),
	}

	historyPath := cfg.HistoryDB
	if historyPath == "" {
		historyPath = filepath.Join(".", "call_history.db")
	}
	store, err := history.NewSQLiteStore(historyPath)
	if err != nil {
		// Без персистентного журнала клиент все равно работоспособен
		logger.LogError(err, "журнал истории будет только в памяти")
	} else {
		opts = append(opts, softphone.WithHistoryStore(store))
	}

	phone, err := softphone.New(gate, engineCfg, opts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := phone.Start(ctx); err != nil {
		return err
	}

	shutdown := func() {
		c, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		phone.Shutdown(c)
	}

	// Печать смены статуса при каждом изменении состояния
	var statusMu sync.Mutex
	var lastStatus string
	phone.Subscribe(func(snap state.Snapshot) {
		statusMu.Lock()
		defer statusMu.Unlock()
		if snap.CallStatus != lastStatus {
			lastStatus = snap.CallStatus
			fmt.Printf("[%s] %s\n", snap.Registration, snap.CallStatus)
		}
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nзавершение...")
		shutdown()
		os.Exit(0)
	}()

	fmt.Println("готово. команды: call <number>, answer, reject, hangup, mute, hold, status, history, clear-history, quit")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		cmd := fields[0]

		switch cmd {
		case "call":
			if len(fields) < 2 {
				fmt.Println("использование: call <number>")
				continue
			}
			if err := phone.PlaceCall(ctx, fields[1]); err != nil {
				fmt.Println("вызов не удался:", err)
			}
		case "answer":
			if err := phone.AcceptIncomingCall(ctx); err != nil {
				fmt.Println("прием не удался:", err)
			}
		case "reject":
			if err := phone.RejectIncomingCall(ctx); err != nil {
				fmt.Println("отклонение не удалось:", err)
			}
		case "hangup":
			phone.EndCall(ctx)
		case "mute":
			phone.ToggleMute()
		case "hold":
			phone.ToggleHold()
		case "status":
			printStatus(phone)
		case "history":
			printHistory(phone)
		case "clear-history":
			phone.ClearCallHistory()
			fmt.Println("журнал очищен")
		case "quit", "exit":
			shutdown()
			return nil
		default:
			fmt.Println("неизвестная команда:", cmd)
		}
	}

	shutdown()
	return scanner.Err()
}

func printStatus(phone *softphone.Phone) {
	snap := phone.Snapshot()
	fmt.Printf("регистрация: %s  статус: %s\n", snap.Registration, snap.CallStatus)
	if snap.IsInCall {
		fmt.Printf("в разговоре %d сек", phone.CallDuration())
		if snap.IsMuted {
			fmt.Print("  [mute]")
		}
		if snap.IsOnHold {
			fmt.Print("  [hold]")
		}
		fmt.Println()
	}
}

func printHistory(phone *softphone.Phone) {
	calls := phone.History()
	if len(calls) == 0 {
		fmt.Println("журнал пуст")
		return
	}
	for _, rec := range calls {
		line := fmt.Sprintf("%s  %-8s  %-11s  %s",
			rec.Timestamp.Format("2006-01-02 15:04:05"),
			rec.Direction, rec.Outcome, rec.Number)
		if rec.HasDuration() {
			line += fmt.Sprintf("  (%d сек)", rec.DurationSeconds())
		}
		fmt.Println(line)
	}
}
