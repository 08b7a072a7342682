// Package softphone - движок оркестрации телефонных сессий
//
// Пакет связывает сигнальный транспорт, хранилище состояния,
// журнал истории вызовов и звуковые оповещения в единый фасад Phone.
//
// Базовое использование:
//
//	transport, err := sipgate.New(sipgate.DefaultConfig())
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	phone, err := softphone.New(transport, softphone.DefaultConfig(),
//		softphone.WithNotifier(audio.NewBellNotifier(os.Stdout)),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	ctx := context.Background()
//	if err := phone.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer phone.Shutdown(ctx)
//
//	// Подписка на изменения состояния
//	phone.Subscribe(func(snap state.Snapshot) {
//		fmt.Println("status:", snap.CallStatus)
//	})
//
//	// Исходящий вызов
//	if err := phone.PlaceCall(ctx, "alice"); err != nil {
//		log.Println("call failed:", err)
//	}
//
// Входящие вызовы доставляются транспортом. Пока приглашение ожидает
// решения, статус принимает вид "Incoming call from X", затем
// пользователь выбирает AcceptIncomingCall, RejectIncomingCall или
// IgnoreIncomingCall. Неотвеченное приглашение игнорируется
// автоматически по таймауту с исходом missed.
//
// Журнал истории хранит терминальные записи, новые первыми. Запись
// completed несет длительность в секундах, остальные исходы
// длительности не имеют.
package softphone
