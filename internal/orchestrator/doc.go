// Package orchestrator реализует основной конвейер обработки issue.
//
// # Обзор
//
// Orchestrator — центральный компонент системы: для каждого issue,
// пропущенного Webhook Ingress или Poller, он прогоняет конвейер
// processIssue от маршрутизации до отчёта в трекер. Он отвечает за:
//
//   - Определение репозитория и провайдера для issue (routing.Engine)
//   - Захват статус-блокировки на время обработки (lockdir.LockDirectory)
//   - Создание сессии и рабочей копии (session.Manager, worktree.Manager)
//   - Запуск Agent Executor с фолбэком между провайдерами
//   - Верификацию результата и терминальный переход сессии
//   - Отчёт об исходе в трекер (reporter.Reporter)
//
// # Архитектура
//
// Webhook Ingress и Poller не знают, где физически исполняется
// processIssue — оба зависят только от интерфейса Dispatcher:
//
//	type Dispatcher interface {
//	    Dispatch(ctx context.Context, issue domain.Issue)
//	}
//
// *Orchestrator реализует этот интерфейс напрямую (Dispatch запускает
// processIssue синхронно, в горутине вызывающей стороны) — так выглядит
// однопроцессный вариант развёртывания. BusDispatcher реализует тот же
// интерфейс, публикуя issue в шину событий (internal/eventbus); отдельный
// процесс relay-orchestrator в этом случае вызывает Orchestrator.Consume,
// который подписывается на шину и прогоняет processIssue для каждого
// события. Оба пути используют один и тот же Orchestrator.processIssue.
//
// # processIssue
//
// Девять шагов, в порядке выполнения:
//
//  1. routing.Engine.Resolve — матч по меткам, затем по проекту, команде
//     и тегу [repo=X]; промах — ошибка NoMatch.
//  2. directive.ParseProviderOverride — необязательная директива
//     переопределения провайдера из описания issue.
//  3. lockdir.LockDirectory.Acquire(issue.ID) — блокировка на время
//     обработки; занятый id — ошибка Busy.
//  4. session.Manager.Create (STARTED) + worktree.Manager.Create по
//     выбранному режиму.
//  5. runWithProviderFallback — Agent Executor (сам обёрнутый Retry
//     Engine) поочерёдно для до MaxProviderAttempts провайдеров, с
//     линейной паузой 1s × attempt между переключениями.
//  6. verify — хотя бы один коммит с issue id в сообщении и чистое
//     рабочее дерево.
//  7. Терминальный переход сессии: Complete при успехе, Fail иначе.
//  8. reporter.Reporter.Report.
//  9. Очистка рабочей копии по исходу; снятие блокировки (defer).
package orchestrator
