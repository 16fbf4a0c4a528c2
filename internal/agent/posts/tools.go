package posts

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/schema"
	"golang.org/x/net/html"

	"github.com/workplace-chat/orchestrator/internal/agent/graph/tools"
	"github.com/workplace-chat/orchestrator/internal/agent/llm"
	"github.com/workplace-chat/orchestrator/internal/agent/model"
	logx "github.com/workplace-chat/orchestrator/pkg/logger"
)

// Post tool names.
const (
	ToolSetTitleAndBody = "set_post_title_and_body"
	ToolSetTitle        = "set_post_title"
	ToolSetBody         = "set_post_body"
	ToolGetTitle        = "get_post_title"
	ToolGetBody         = "get_post_body"
	ToolGetPost         = "get_post"
)

const noPostYet = "No post has been created yet. Use search tools to gather relevant information before creating a post."

var (
	titleParam = &schema.ParameterInfo{Type: schema.String, Desc: "The title of the post, concise and descriptive", Required: true}
	bodyParam  = &schema.ParameterInfo{Type: schema.String, Desc: "The HTML body of the post", Required: true}
)

var postToolSpecs = map[string]llm.ToolSpec{
	ToolSetTitleAndBody: {
		Name:   ToolSetTitleAndBody,
		Desc:   "Create a new post or replace the title and body of the current post.",
		Params: map[string]*schema.ParameterInfo{"title": titleParam, "body": bodyParam},
	},
	ToolSetTitle: {
		Name:   ToolSetTitle,
		Desc:   "Set the title of the current post.",
		Params: map[string]*schema.ParameterInfo{"title": titleParam},
	},
	ToolSetBody: {
		Name:   ToolSetBody,
		Desc:   "Set the body of the current post.",
		Params: map[string]*schema.ParameterInfo{"body": bodyParam},
	},
	ToolGetTitle: {Name: ToolGetTitle, Desc: "Get the title of the current post.", Params: map[string]*schema.ParameterInfo{}},
	ToolGetBody:  {Name: ToolGetBody, Desc: "Get the body of the current post.", Params: map[string]*schema.ParameterInfo{}},
	ToolGetPost:  {Name: ToolGetPost, Desc: "Get the current post.", Params: map[string]*schema.ParameterInfo{}},
}

type titleAndBodyInput struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type titleInput struct {
	Title string `json:"title"`
}

type bodyInput struct {
	Body string `json:"body"`
}

type noInput struct{}

// editor reads and writes the draft of one run.
type editor struct {
	post    *model.Post
	allowed []string
}

func (e *editor) setBody(body string) {
	clean, err := Sanitize(body, e.allowed)
	if err != nil {
		logx.Warn().Err(err).Msg("Post body could not be sanitized, storing it escaped")
		clean = html.EscapeString(body)
	}
	e.post.Body = clean
}

func (e *editor) getTitle() string {
	switch {
	case e.post.Empty():
		return noPostYet
	case e.post.Title == "":
		return "No title has been set for the current post, please set a title first"
	default:
		return fmt.Sprintf("Title of the current post is:\n\n %s", e.post.Title)
	}
}

func (e *editor) getBody() string {
	switch {
	case e.post.Empty():
		return noPostYet
	case e.post.Body == "":
		return fmt.Sprintf("No body has been set for the current post with title '%s'. "+
			"Use search tools to gather information fitting this title before creating the body.", e.post.Title)
	default:
		return fmt.Sprintf("Body of the current post is:\n\n %s", e.post.Body)
	}
}

func (e *editor) getPost() string {
	switch {
	case e.post.Empty():
		return noPostYet
	case e.post.Title == "":
		return fmt.Sprintf("Title: No title has been set for the current post, please set a title first \n\n Body: %s", e.post.Body)
	case e.post.Body == "":
		return fmt.Sprintf("Title: %s \n\n Body: No body has been set yet. "+
			"Use search tools to gather information fitting this title before creating the body.", e.post.Title)
	default:
		return fmt.Sprintf("Current post is:  \n\n Title: %s \n\n Body: %s", e.post.Title, e.post.Body)
	}
}

// addPostTools registers the draft tools for post on box.
func addPostTools(box *tools.Toolbox, post *model.Post, allowed []string) {
	e := &editor{post: post, allowed: allowed}

	spec := postToolSpecs[ToolSetTitleAndBody]
	box.Add(spec, tools.New(spec, func(_ context.Context, in *titleAndBodyInput) (string, error) {
		e.post.Title = in.Title
		e.setBody(in.Body)
		return "The post title and body have been successfully set", nil
	}))
	spec = postToolSpecs[ToolSetTitle]
	box.Add(spec, tools.New(spec, func(_ context.Context, in *titleInput) (string, error) {
		e.post.Title = in.Title
		return "The post title has been successfully set", nil
	}))
	spec = postToolSpecs[ToolSetBody]
	box.Add(spec, tools.New(spec, func(_ context.Context, in *bodyInput) (string, error) {
		e.setBody(in.Body)
		return "The post body has been successfully set", nil
	}))

	readers := []struct {
		name string
		read func() string
	}{
		{ToolGetTitle, e.getTitle},
		{ToolGetBody, e.getBody},
		{ToolGetPost, e.getPost},
	}
	for _, r := range readers {
		spec := postToolSpecs[r.name]
		box.Add(spec, tools.New(spec, func(context.Context, *noInput) (string, error) {
			return r.read(), nil
		}))
	}
}
