package main

import (
	"fmt"
	"log"
	"os"

	_ "job_fair/docs"
	"job_fair/internal/auth"
	"job_fair/internal/handlers"
	"job_fair/internal/queue"
	"job_fair/internal/storage"
	"job_fair/internal/tasks"
	"job_fair/internal/ws"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @Title						Очередь собеседований ярмарки вакансий
// @securityDefinitions.apikey	BearerAuth
// @in							header
// @name						Authorization
func main() {
	key := os.Getenv("ENV_CHEK")
	if key == "" {
		fmt.Println("Подключение к .env")
		err := godotenv.Load()
		if err != nil {
			log.Fatal("Ошибка получения .env")
		}
	}

	storage.ConnectDatabase()

	if err := storage.Migrate(); err != nil {
		log.Fatal("Ошибка при миграции... ", err.Error())
	}

	storage.InitRedis()

	queue.InitStrategyFromEnv()
	handlers.InitGuards()

	tasks.InitScheduler()

	go ws.HubInstance.Run()

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/login", handlers.Login)
		authGroup.POST("/register", handlers.Register)
		authGroup.POST("/refresh", handlers.RefreshToken)
	}

	// Публичные проекции: срез станции опрашивается без авторизации.
	r.GET("/api/stations", handlers.ListStationsHandler)
	r.GET("/api/stations/:id/status", handlers.StationStatusHandler)
	r.GET("/api/stations/:id/ws", ws.StationWebSocketHandler)

	api := r.Group("/api", auth.AuthMiddleware())
	{
		api.POST("/stations", handlers.CreateStationHandler)
		api.POST("/stations/:id/toggle", handlers.ToggleStationHandler)
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

	profile := r.Group("/profile", auth.AuthMiddleware())
	{
		profile.GET("/queues", handlers.MyQueuesHandler)
	}

	if err := r.Run(":8080"); err != nil {
		log.Fatal("Ошибка запуска сервера...", err.Error())
	}
}
