package test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"job_fair/internal/handlers"
	"job_fair/internal/models"
	"job_fair/internal/queue"
	"job_fair/internal/storage"
	"job_fair/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func AuthMiddlewareTest() gin.HandlerFunc {
	return func(c *gin.Context) {
		userIDStr := c.Request.Header.Get("X-Test-UserID")
		if userIDStr == "" {
			c.Set("userID", uint(1))
		} else {
			id, err := strconv.Atoi(userIDStr)
			if err != nil {
				c.Set("userID", uint(1))
			} else {
				c.Set("userID", uint(id))
			}
		}
		c.Next()
	}
}

func setupTestServer(t *testing.T) *httptest.Server {
	key := os.Getenv("ENV_CHEK")
	if key == "" {
		fmt.Println("Подключение к .env")
		err := godotenv.Load("../.env")
		if err != nil {
			log.Fatal("Ошибка получения .env")
		}
	}

	storage.ConnectTestingDatabase()
	storage.DB.Exec("TRUNCATE TABLE users, stations, queue_entries RESTART IDENTITY CASCADE;")

	if err := storage.Migrate(); err != nil {
		log.Fatal("Ошибка при миграции... ", err.Error())
	}

	storage.InitRedis()
	storage.RedisClient.FlushDB(context.Background())

	queue.SetStrategy(queue.PriorityOrder{})
	handlers.InitGuards()

	go ws.HubInstance.Run()

	r := gin.Default()

	r.GET("/api/stations/:id/status", handlers.StationStatusHandler)
	api := r.Group("/api", AuthMiddlewareTest())
	{
		api.POST("/stations/:id/join", handlers.JoinStationHandler)
		api.POST("/stations/:id/next", handlers.NextHandler)
		api.GET("/stations/:id/validate", handlers.ValidateStationHandler)
		api.POST("/entries/:id/leave", handlers.LeaveEntryHandler)
		api.POST("/entries/:id/reschedule", handlers.RescheduleEntryHandler)
		api.POST("/entries/:id/cancel", handlers.CancelEntryHandler)
		api.POST("/entries/:id/start", handlers.StartEntryHandler)
		api.POST("/entries/:id/end", handlers.EndEntryHandler)
		api.POST("/entries/:id/skip", handlers.SkipEntryHandler)
		api.POST("/admin/audit", handlers.AuditHandler)
	}
	profile := r.Group("/profile", AuthMiddlewareTest())
	{
		profile.GET("/queues", handlers.MyQueuesHandler)
	}

	return httptest.NewServer(r)
}

func createStation(t *testing.T, org, room string) models.Station {
	station := models.Station{
		OrgName:              org,
		Room:                 room,
		IsActive:             true,
		EstimatedSlotMinutes: 15,
		ClosesAt:             time.Now().Add(8 * time.Hour),
	}
	require.NoError(t, storage.DB.Create(&station).Error, "Ошибка создания тестовой станции")
	return station
}

func createUser(t *testing.T, name, role, tier, room string) models.User {
	user := models.User{
		Name:         name,
		Surname:      name + "ов",
		Email:        fmt.Sprintf("%s_%d@example.com", name, time.Now().UnixNano()),
		PasswordHash: "hashed123",
		Role:         role,
		Tier:         tier,
		Room:         room,
	}
	require.NoError(t, storage.DB.Create(&user).Error, "Ошибка создания тестового пользователя")
	return user
}

func doJoin(t *testing.T, ts *httptest.Server, stationID, userID uint, engagement string) *http.Response {
	body, _ := json.Marshal(map[string]string{"engagement_type": engagement})
	url := fmt.Sprintf("%s/api/stations/%d/join", ts.URL, stationID)
	req, _ := http.NewRequest("POST", url, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-UserID", fmt.Sprintf("%d", userID))
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err, "Ошибка запроса join")
	return res
}

func doPost(t *testing.T, ts *httptest.Server, path string, userID uint) *http.Response {
	req, _ := http.NewRequest("POST", ts.URL+path, nil)
	req.Header.Set("X-Test-UserID", fmt.Sprintf("%d", userID))
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err, "Ошибка POST запроса")
	return res
}

// TestPriorityOrdering: внутренний соискатель с "худшей" целью обгоняет
// внешнего с "лучшей" — категория важнее цели собеседования.
func TestPriorityOrdering(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.Close()

	station := createStation(t, "Рога и Копыта", "А-301")
	userA := createUser(t, "Андрей", models.RoleApplicant, models.TierExternal, "")
	userB := createUser(t, "Борис", models.RoleApplicant, models.TierInternal, "")

	// A (внешний, employment) вступает первым.
	resA := doJoin(t, ts, station.ID, userA.ID, models.EngagementEmployment)
	defer resA.Body.Close()
	require.Equal(t, http.StatusOK, resA.StatusCode, "Пользователь A не смог вступить")

	// B (внутренний, academic_project) вступает вторым, но становится первым.
	resB := doJoin(t, ts, station.ID, userB.ID, models.EngagementAcademicProject)
	defer resB.Body.Close()
	require.Equal(t, http.StatusOK, resB.StatusCode, "Пользователь B не смог вступить")

	var entryA, entryB models.QueueEntry
	require.NoError(t, storage.DB.Where("user_id = ?", userA.ID).First(&entryA).Error)
	require.NoError(t, storage.DB.Where("user_id = ?", userB.ID).First(&entryB).Error)
	assert.Equal(t, 1, entryB.Position, "Внутренний соискатель должен быть первым")
	assert.Equal(t, 2, entryA.Position, "Внешний соискатель должен быть вторым")

	// Статус станции отдаёт участников в порядке позиций.
	statusRes, err := http.Get(fmt.Sprintf("%s/api/stations/%d/status", ts.URL, station.ID))
	require.NoError(t, err, "Ошибка запроса статуса станции")
	defer statusRes.Body.Close()
	require.Equal(t, http.StatusOK, statusRes.StatusCode)

	var snap queue.StationSnapshot
	require.NoError(t, json.NewDecoder(statusRes.Body).Decode(&snap))
	require.Len(t, snap.Waiting, 2, "Количество участников в очереди неверное")
	assert.Equal(t, userB.ID, snap.Waiting[0].UserID)
	assert.Equal(t, userA.ID, snap.Waiting[1].UserID)
}

// TestConcurrentJoins: из 5 одновременных вступлений одной пары
// (соискатель, станция) проходит ровно одно.
func TestConcurrentJoins(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.Close()

	station := createStation(t, "Синхрон", "Б-101")
	user := createUser(t, "Виктор", models.RoleApplicant, models.TierExternal, "")

	const attempts = 5
	var wg sync.WaitGroup
	codes := make(chan int, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := doJoin(t, ts, station.ID, user.ID, models.EngagementEmployment)
			defer res.Body.Close()
			codes <- res.StatusCode
		}()
	}
	wg.Wait()
	close(codes)

	success, conflict := 0, 0
	for code := range codes {
		switch code {
		case http.StatusOK:
			success++
		case http.StatusConflict:
			conflict++
		}
	}
	assert.Equal(t, 1, success, "Должно пройти ровно одно вступление")
	assert.Equal(t, attempts-1, conflict, "Остальные должны получить конфликт")

	var liveCount int64
	storage.DB.Model(&models.QueueEntry{}).
		Where("user_id = ? AND station_id = ? AND status IN ?", user.ID, station.ID,
			[]string{models.StatusWaiting, models.StatusActive}).
		Count(&liveCount)
	assert.Equal(t, int64(1), liveCount, "В базе должна остаться одна живая запись")
}

// TestStartConflict: запуск второго собеседования на занятой станции
// отклоняется и не трогает идущее.
func TestStartConflict(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.Close()

	station := createStation(t, "Занято", "В-202")
	operator := createUser(t, "Олег", models.RoleOperator, "", "В-202")
	user1 := createUser(t, "Пётр", models.RoleApplicant, models.TierInternal, "")
	user2 := createUser(t, "Роман", models.RoleApplicant, models.TierExternal, "")

	res1 := doJoin(t, ts, station.ID, user1.ID, models.EngagementInternship)
	res1.Body.Close()
	res2 := doJoin(t, ts, station.ID, user2.ID, models.EngagementInternship)
	res2.Body.Close()

	var entry1, entry2 models.QueueEntry
	require.NoError(t, storage.DB.Where("user_id = ?", user1.ID).First(&entry1).Error)
	require.NoError(t, storage.DB.Where("user_id = ?", user2.ID).First(&entry2).Error)

	startRes := doPost(t, ts, fmt.Sprintf("/api/entries/%d/start", entry1.ID), operator.ID)
	defer startRes.Body.Close()
	require.Equal(t, http.StatusOK, startRes.StatusCode, "Первое собеседование не началось")

	busyRes := doPost(t, ts, fmt.Sprintf("/api/entries/%d/start", entry2.ID), operator.ID)
	defer busyRes.Body.Close()
	assert.Equal(t, http.StatusConflict, busyRes.StatusCode, "Вторая запись должна получить конфликт")

	var activeEntry models.QueueEntry
	require.NoError(t, storage.DB.Where("station_id = ? AND status = ?",
		station.ID, models.StatusActive).First(&activeEntry).Error)
	assert.Equal(t, entry1.ID, activeEntry.ID, "Идущее собеседование должно остаться нетронутым")
	assert.NotNil(t, activeEntry.StartedAt)
}

// TestRescheduleFirstInLine: перенос с первой позиции запрещён и не
// меняет время вступления.
func TestRescheduleFirstInLine(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.Close()

	station := createStation(t, "Перенос", "Г-303")
	user := createUser(t, "Семен", models.RoleApplicant, models.TierInternal, "")

	res := doJoin(t, ts, station.ID, user.ID, models.EngagementAcademicProject)
	res.Body.Close()

	var entry models.QueueEntry
	require.NoError(t, storage.DB.Where("user_id = ?", user.ID).First(&entry).Error)
	require.Equal(t, 1, entry.Position)
	joinedBefore := entry.JoinedAt

	reschedRes := doPost(t, ts, fmt.Sprintf("/api/entries/%d/reschedule", entry.ID), user.ID)
	defer reschedRes.Body.Close()
	assert.Equal(t, http.StatusConflict, reschedRes.StatusCode, "Первый в очереди не может переноситься")

	var after models.QueueEntry
	require.NoError(t, storage.DB.First(&after, entry.ID).Error)
	assert.True(t, after.JoinedAt.Equal(joinedBefore), "JoinedAt не должен меняться при отказе")
	assert.Equal(t, 1, after.Position)
}

// TestRescheduleMovesBack: перенос не с первой позиции сдвигает запись
// в конец её группы приоритета.
func TestRescheduleMovesBack(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.Close()

	station := createStation(t, "Сдвиг", "Д-404")
	u1 := createUser(t, "Тарас", models.RoleApplicant, models.TierInternal, "")
	u2 := createUser(t, "Ульян", models.RoleApplicant, models.TierInternal, "")
	u3 := createUser(t, "Федор", models.RoleApplicant, models.TierInternal, "")

	for _, u := range []models.User{u1, u2, u3} {
		res := doJoin(t, ts, station.ID, u.ID, models.EngagementAcademicProject)
		res.Body.Close()
	}

	var entry2 models.QueueEntry
	require.NoError(t, storage.DB.Where("user_id = ?", u2.ID).First(&entry2).Error)
	require.Equal(t, 2, entry2.Position)

	reschedRes := doPost(t, ts, fmt.Sprintf("/api/entries/%d/reschedule", entry2.ID), u2.ID)
	defer reschedRes.Body.Close()
	require.Equal(t, http.StatusOK, reschedRes.StatusCode)

	var after models.QueueEntry
	require.NoError(t, storage.DB.First(&after, entry2.ID).Error)
	assert.Equal(t, 3, after.Position, "Запись должна уйти в конец своей группы")
}

// TestCrossStationGuard: соискателя с позицией ≤ 3 в одной очереди не
// пускают в другую; ответ несёт имя станции-конкурента.
func TestCrossStationGuard(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.Close()

	station1 := createStation(t, "Первая", "Е-505")
	station2 := createStation(t, "Вторая", "Е-506")
	user := createUser(t, "Харитон", models.RoleApplicant, models.TierExternal, "")

	res1 := doJoin(t, ts, station1.ID, user.ID, models.EngagementEmployment)
	res1.Body.Close()

	res2 := doJoin(t, ts, station2.ID, user.ID, models.EngagementEmployment)
	defer res2.Body.Close()
	require.Equal(t, http.StatusConflict, res2.StatusCode, "Близкая к вызову очередь должна блокировать")

	var errResp map[string]interface{}
	require.NoError(t, json.NewDecoder(res2.Body).Decode(&errResp))
	assert.Equal(t, "NEAR_FRONT_ELSEWHERE", errResp["code"])
	stations, ok := errResp["stations"].([]interface{})
	require.True(t, ok, "Ответ должен нести список станций-конкурентов")
	assert.Contains(t, stations, "Первая")
}

// TestAdvanceToNext: составная операция пропускает активное и вызывает
// первого ожидающего; пустая очередь — не ошибка.
func TestAdvanceToNext(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.Close()

	station := createStation(t, "Следующий", "Ж-606")
	operator := createUser(t, "Царев", models.RoleReviewer, "", "Ж-606")
	u1 := createUser(t, "Шура", models.RoleApplicant, models.TierInternal, "")
	u2 := createUser(t, "Юрий", models.RoleApplicant, models.TierInternal, "")

	for _, u := range []models.User{u1, u2} {
		res := doJoin(t, ts, station.ID, u.ID, models.EngagementInternship)
		res.Body.Close()
	}

	// Первый вызов: активных нет, стартует первый ожидающий.
	next1 := doPost(t, ts, fmt.Sprintf("/api/stations/%d/next", station.ID), operator.ID)
	next1.Body.Close()
	require.Equal(t, http.StatusOK, next1.StatusCode)

	var active models.QueueEntry
	require.NoError(t, storage.DB.Where("station_id = ? AND status = ?",
		station.ID, models.StatusActive).First(&active).Error)
	assert.Equal(t, u1.ID, active.UserID)

	// Второй вызов: активное пропускается, стартует следующий.
	next2 := doPost(t, ts, fmt.Sprintf("/api/stations/%d/next", station.ID), operator.ID)
	next2.Body.Close()
	require.Equal(t, http.StatusOK, next2.StatusCode)

	var skipped models.QueueEntry
	require.NoError(t, storage.DB.First(&skipped, active.ID).Error)
	assert.Equal(t, models.StatusSkipped, skipped.Status)
	assert.NotNil(t, skipped.SkippedAt)

	require.NoError(t, storage.DB.Where("station_id = ? AND status = ?",
		station.ID, models.StatusActive).First(&active).Error)
	assert.Equal(t, u2.ID, active.UserID)

	// Третий вызов: очередь пуста — успех с сообщением, активное пропущено.
	next3 := doPost(t, ts, fmt.Sprintf("/api/stations/%d/next", station.ID), operator.ID)
	defer next3.Body.Close()
	require.Equal(t, http.StatusOK, next3.StatusCode)
	var result map[string]interface{}
	require.NoError(t, json.NewDecoder(next3.Body).Decode(&result))
	payload := result["payload"].(map[string]interface{})
	assert.Equal(t, true, payload["no_waiting"])
}

// TestLeaveReorders: выход из середины очереди смыкает позиции.
func TestLeaveReorders(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.Close()

	station := createStation(t, "Смыкание", "З-707")
	u1 := createUser(t, "Яков", models.RoleApplicant, models.TierInternal, "")
	u2 := createUser(t, "Анна", models.RoleApplicant, models.TierInternal, "")
	u3 := createUser(t, "Белла", models.RoleApplicant, models.TierInternal, "")

	for _, u := range []models.User{u1, u2, u3} {
		res := doJoin(t, ts, station.ID, u.ID, models.EngagementAcademicProject)
		res.Body.Close()
	}

	var entry2 models.QueueEntry
	require.NoError(t, storage.DB.Where("user_id = ?", u2.ID).First(&entry2).Error)
	leaveRes := doPost(t, ts, fmt.Sprintf("/api/entries/%d/leave", entry2.ID), u2.ID)
	leaveRes.Body.Close()
	require.Equal(t, http.StatusOK, leaveRes.StatusCode)

	var entries []models.QueueEntry
	require.NoError(t, storage.DB.
		Where("station_id = ? AND status = ?", station.ID, models.StatusWaiting).
		Order("position ASC").Find(&entries).Error)
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[0].Position)
	assert.Equal(t, 2, entries[1].Position)

	var left models.QueueEntry
	require.NoError(t, storage.DB.First(&left, entry2.ID).Error)
	assert.Equal(t, models.StatusCancelled, left.Status)
	assert.NotNil(t, left.CompletedAt)
}

// TestAuditRepairsAndIsIdempotent: аудит чинит испорченные позиции, повторный
// запуск по валидным данным ничего не исправляет.
func TestAuditRepairsAndIsIdempotent(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.Close()

	station := createStation(t, "Аудит", "И-808")
	u1 := createUser(t, "Вера", models.RoleApplicant, models.TierInternal, "")
	u2 := createUser(t, "Глеб", models.RoleApplicant, models.TierInternal, "")

	for _, u := range []models.User{u1, u2} {
		res := doJoin(t, ts, station.ID, u.ID, models.EngagementAcademicProject)
		res.Body.Close()
	}

	// Ломаем нумерацию напрямую в базе: дубль позиции 1.
	require.NoError(t, storage.DB.Model(&models.QueueEntry{}).
		Where("station_id = ?", station.ID).
		Update("position", 1).Error)

	report, err := queue.AuditAndRepair(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Valid, "Аудит должен найти дубль позиции")
	// Ровно одна находка — дубль позиции; счётчик не накручивается.
	assert.Equal(t, 1, report.Fixed)

	// Проверка инвариантов после починки.
	validate, err := queue.ValidateStation(context.Background(), station.ID)
	require.NoError(t, err)
	assert.True(t, validate.Valid, "После починки инварианты должны выполняться: %v", validate.Issues)

	// Идемпотентность: второй проход ничего не чинит.
	again, err := queue.AuditAndRepair(context.Background())
	require.NoError(t, err)
	assert.True(t, again.Valid, "Повторный аудит не должен находить проблем: %v", again.Issues)
	assert.Equal(t, 0, again.Fixed)
}

// TestMemberships: профиль отдаёт живые записи по всем станциям.
func TestMemberships(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.Close()

	station := createStation(t, "Профиль", "К-909")
	user := createUser(t, "Дарья", models.RoleApplicant, models.TierExternal, "")

	res := doJoin(t, ts, station.ID, user.ID, models.EngagementObservation)
	res.Body.Close()

	req, _ := http.NewRequest("GET", ts.URL+"/profile/queues", nil)
	req.Header.Set("X-Test-UserID", fmt.Sprintf("%d", user.ID))
	profileRes, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer profileRes.Body.Close()
	require.Equal(t, http.StatusOK, profileRes.StatusCode)

	var items []queue.MembershipItem
	require.NoError(t, json.NewDecoder(profileRes.Body).Decode(&items))
	require.Len(t, items, 1)
	assert.Equal(t, "Профиль", items[0].OrgName)
	assert.Equal(t, models.StatusWaiting, items[0].Status)
	assert.Equal(t, 1, items[0].Position)
}

// TestLeaveAfterStartRejected: начатое собеседование нельзя отменить через
// выход — запись уже не в ожидании, метка начала сохраняется.
func TestLeaveAfterStartRejected(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.Close()

	station := createStation(t, "Защита", "Л-100")
	operator := createUser(t, "Захар", models.RoleOperator, "", "Л-100")
	user := createUser(t, "Игорь", models.RoleApplicant, models.TierInternal, "")

	res := doJoin(t, ts, station.ID, user.ID, models.EngagementEmployment)
	res.Body.Close()

	var entry models.QueueEntry
	require.NoError(t, storage.DB.Where("user_id = ?", user.ID).First(&entry).Error)

	startRes := doPost(t, ts, fmt.Sprintf("/api/entries/%d/start", entry.ID), operator.ID)
	startRes.Body.Close()
	require.Equal(t, http.StatusOK, startRes.StatusCode)

	leaveRes := doPost(t, ts, fmt.Sprintf("/api/entries/%d/leave", entry.ID), user.ID)
	defer leaveRes.Body.Close()
	assert.Equal(t, http.StatusConflict, leaveRes.StatusCode, "Выход из активного собеседования запрещён")

	var after models.QueueEntry
	require.NoError(t, storage.DB.First(&after, entry.ID).Error)
	assert.Equal(t, models.StatusActive, after.Status, "Собеседование должно остаться активным")
	assert.NotNil(t, after.StartedAt, "Метка начала не должна затираться")
	assert.Nil(t, after.CompletedAt)
}

// TestConcurrentStartAndLeave: гонка оператора и соискателя за одну запись.
// Побеждает ровно один; итоговое состояние согласовано с победителем —
// активное собеседование с меткой начала либо отменённая запись без неё.
func TestConcurrentStartAndLeave(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.Close()

	station := createStation(t, "Состязание", "Л-101")
	operator := createUser(t, "Кирилл", models.RoleOperator, "", "Л-101")
	user := createUser(t, "Лев", models.RoleApplicant, models.TierExternal, "")

	res := doJoin(t, ts, station.ID, user.ID, models.EngagementInternship)
	res.Body.Close()

	var entry models.QueueEntry
	require.NoError(t, storage.DB.Where("user_id = ?", user.ID).First(&entry).Error)

	var wg sync.WaitGroup
	codes := make(chan int, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		r := doPost(t, ts, fmt.Sprintf("/api/entries/%d/start", entry.ID), operator.ID)
		defer r.Body.Close()
		codes <- r.StatusCode
	}()
	go func() {
		defer wg.Done()
		r := doPost(t, ts, fmt.Sprintf("/api/entries/%d/leave", entry.ID), user.ID)
		defer r.Body.Close()
		codes <- r.StatusCode
	}()
	wg.Wait()
	close(codes)

	success, conflict := 0, 0
	for code := range codes {
		switch code {
		case http.StatusOK:
			success++
		case http.StatusConflict:
			conflict++
		}
	}
	assert.Equal(t, 1, success, "Проходит ровно одна из двух операций")
	assert.Equal(t, 1, conflict, "Проигравший получает конфликт")

	var after models.QueueEntry
	require.NoError(t, storage.DB.First(&after, entry.ID).Error)
	switch after.Status {
	case models.StatusActive:
		assert.NotNil(t, after.StartedAt)
		assert.Nil(t, after.CompletedAt)
	case models.StatusCancelled:
		assert.Nil(t, after.StartedAt, "Отменённая из ожидания запись не несёт метку начала")
		assert.NotNil(t, after.CompletedAt)
	default:
		t.Fatalf("Неожиданный итоговый статус записи: %s", after.Status)
	}
}

// TestRandomOperationSequencesKeepInvariants: случайные последовательности
// операций, в том числе одновременные, не ломают инварианты очередей —
// позиции 1..N, не больше одной активной записи на станцию, не больше одной
// живой записи на пару (соискатель, станция).
func TestRandomOperationSequencesKeepInvariants(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.Close()

	stations := []models.Station{
		createStation(t, "Хаос-1", "М-201"),
		createStation(t, "Хаос-2", "М-202"),
	}
	operators := []models.User{
		createUser(t, "Оператор1", models.RoleOperator, "", "М-201"),
		createUser(t, "Оператор2", models.RoleOperator, "", "М-202"),
	}

	var users []models.User
	for i := 0; i < 8; i++ {
		tier := models.TierExternal
		if i%2 == 0 {
			tier = models.TierInternal
		}
		users = append(users, createUser(t, fmt.Sprintf("Участник%d", i), models.RoleApplicant, tier, ""))
	}

	engagements := []string{
		models.EngagementAcademicProject,
		models.EngagementInternship,
		models.EngagementEmployment,
		models.EngagementObservation,
	}

	findWaitingEntry := func(userID uint) (uint, bool) {
		var e models.QueueEntry
		err := storage.DB.Where("user_id = ? AND status = ?", userID, models.StatusWaiting).
			First(&e).Error
		if err != nil {
			return 0, false
		}
		return e.ID, true
	}
	findActiveEntry := func(stationID uint) (uint, bool) {
		var e models.QueueEntry
		err := storage.DB.Where("station_id = ? AND status = ?", stationID, models.StatusActive).
			First(&e).Error
		if err != nil {
			return 0, false
		}
		return e.ID, true
	}

	// Коды ответов не проверяются: операция по устаревшей записи обязана
	// вернуть конфликт, а не сломать состояние. Инварианты проверяются в конце.
	runOp := func(kind, si, ui, ei int) {
		station := stations[si]
		operator := operators[si]
		user := users[ui]
		switch kind {
		case 0:
			r := doJoin(t, ts, station.ID, user.ID, engagements[ei])
			r.Body.Close()
		case 1:
			if entryID, ok := findWaitingEntry(user.ID); ok {
				r := doPost(t, ts, fmt.Sprintf("/api/entries/%d/leave", entryID), user.ID)
				r.Body.Close()
			}
		case 2:
			if entryID, ok := findWaitingEntry(user.ID); ok {
				r := doPost(t, ts, fmt.Sprintf("/api/entries/%d/reschedule", entryID), user.ID)
				r.Body.Close()
			}
		case 3:
			r := doPost(t, ts, fmt.Sprintf("/api/stations/%d/next", station.ID), operator.ID)
			r.Body.Close()
		case 4:
			if entryID, ok := findActiveEntry(station.ID); ok {
				r := doPost(t, ts, fmt.Sprintf("/api/entries/%d/end", entryID), operator.ID)
				r.Body.Close()
			}
		case 5:
			if entryID, ok := findActiveEntry(station.ID); ok {
				r := doPost(t, ts, fmt.Sprintf("/api/entries/%d/skip", entryID), operator.ID)
				r.Body.Close()
			}
		}
	}

	rnd := rand.New(rand.NewSource(42))
	const waves = 20
	const opsPerWave = 3
	for w := 0; w < waves; w++ {
		var wg sync.WaitGroup
		for i := 0; i < opsPerWave; i++ {
			kind := rnd.Intn(6)
			si := rnd.Intn(len(stations))
			ui := rnd.Intn(len(users))
			ei := rnd.Intn(len(engagements))
			wg.Add(1)
			go func() {
				defer wg.Done()
				runOp(kind, si, ui, ei)
			}()
		}
		wg.Wait()
	}

	for _, station := range stations {
		report, err := queue.ValidateStation(context.Background(), station.ID)
		require.NoError(t, err)
		assert.True(t, report.Valid, "станция %d нарушила инварианты: %v", station.ID, report.Issues)

		var activeCount int64
		storage.DB.Model(&models.QueueEntry{}).
			Where("station_id = ? AND status = ?", station.ID, models.StatusActive).
			Count(&activeCount)
		assert.LessOrEqual(t, activeCount, int64(1), "станция %d: больше одной активной записи", station.ID)
	}

	var dupLive []struct {
		UserID    uint
		StationID uint
		N         int64
	}
	storage.DB.Model(&models.QueueEntry{}).
		Select("user_id, station_id, count(*) as n").
		Where("status IN ?", []string{models.StatusWaiting, models.StatusActive}).
		Group("user_id, station_id").
		Having("count(*) > 1").
		Scan(&dupLive)
	assert.Empty(t, dupLive, "живая запись должна быть единственной для пары (соискатель, станция)")
}
