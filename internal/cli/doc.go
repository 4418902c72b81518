// Package cli реализует инструмент командной строки relay.
//
// # Обзор
//
// CLI — клиентская утилита для операторов relay. Работает через HTTP,
// не импортирует внутренние пакеты системы. Используется для просмотра
// живых сессий и состояния провайдеров; admission issue происходит через
// вебхук трекера, а не через этот CLI.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для read-only поверхности relay-api (GET /sessions,
// GET /health/...). Инкапсулирует HTTP-запросы и обработку ошибок.
//
//	client := cli.NewClient("http://localhost:8080")
//	sessions, err := client.ListSessions()
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.MarshalIndent) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: relay session list --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - session: list, show
//   - health: providers, detailed
//
// Каждая группа создаётся через фабричную функцию (NewSessionCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
