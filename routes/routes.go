package routes

import (
	"journal-review-api/authz"
	"journal-review-api/controllers"
	"journal-review-api/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies carries what the route table needs.
type Dependencies struct {
	Reviews   *controllers.ReviewController
	JWTSecret string
	Users     middleware.UserLookup
}

func SetupRoutes(router *gin.Engine, deps Dependencies) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 group
	v1 := router.Group("/api/v1")
	{
		// Public routes
		public := v1.Group("")
		{
			// Health check
			public.GET("/health", func(c *gin.Context) {
				c.JSON(200, gin.H{
					"status":  "ok",
					"message": "Journal Review API is running",
				})
			})
		}

		// Protected routes (require authentication)
		protected := v1.Group("")
		protected.Use(middleware.AuthMiddleware(deps.JWTSecret, deps.Users))
		{
			reviews := protected.Group("/reviews")
			{
				// Reviewers and admins
				reviews.POST("/submit", middleware.RequireCapability(authz.SubmitReview), deps.Reviews.SubmitReview)
				reviews.PATCH("/status", middleware.RequireCapability(authz.UpdateReviewStatus), deps.Reviews.UpdateReviewStatus)
				reviews.GET("/mine", middleware.RequireCapability(authz.ListOwnReviews), deps.Reviews.GetMyReviews)
			}

			articles := protected.Group("/articles")
			{
				// Editors and admins
				articles.POST("/:id/reviewers", middleware.RequireCapability(authz.AssignReviewer), deps.Reviews.AssignReviewer)
				articles.GET("/:id/review-history", middleware.RequireCapability(authz.ViewReviewHistory), deps.Reviews.GetArticleReviewHistory)
			}
		}
	}
}
