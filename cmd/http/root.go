package http

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ValentinKolb/kvbind/cmd/util"
	"github.com/ValentinKolb/kvbind/lib/binding"
	"github.com/ValentinKolb/kvbind/lib/completion"
	"github.com/ValentinKolb/kvbind/lib/engine"
	"github.com/ValentinKolb/kvbind/lib/slots"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// HTTPCommands represents the HTTP command group
	HTTPCommands = &cobra.Command{
		Use:                "http",
		Short:              "Send requests to the view and management api",
		PersistentPreRunE:  setup,
		PersistentPostRunE: teardown,
	}

	sessions = map[completion.ConnectionType]*util.Session{}

	getCmd    = requestCommand(completion.HTTPGet)
	postCmd   = requestCommand(completion.HTTPPost)
	putCmd    = requestCommand(completion.HTTPPut)
	deleteCmd = requestCommand(completion.HTTPDelete)
	viewCmd   = &cobra.Command{
		Use:   "view [design] [view]",
		Short: "Queries a view of the bucket",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			if limit, _ := cmd.Flags().GetInt("limit"); limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}
			if skip, _ := cmd.Flags().GetInt("skip"); skip > 0 {
				query.Set("skip", strconv.Itoa(skip))
			}
			path := fmt.Sprintf("/_design/%s/_view/%s", url.PathEscape(args[0]), url.PathEscape(args[1]))
			if len(query) > 0 {
				path += "?" + query.Encode()
			}
			return request(engine.HTTPCmd{Type: completion.HTTPTypeView, Method: completion.HTTPGet, Path: path}, chunked(cmd))
		},
	}
	createBucketCmd = &cobra.Command{
		Use:   "create-bucket [name]",
		Short: "Creates a bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			quota, _ := cmd.Flags().GetInt("ram-quota")
			password, _ := cmd.Flags().GetString("bucket-password")

			form := url.Values{}
			form.Set("name", args[0])
			form.Set("ramQuotaMB", strconv.Itoa(quota))
			form.Set("authType", "sasl")
			if password != "" {
				form.Set("saslPassword", password)
			}
			return request(engine.HTTPCmd{
				Type:        completion.HTTPTypeManagement,
				Method:      completion.HTTPPost,
				Path:        "/pools/default/buckets",
				Body:        []byte(form.Encode()),
				ContentType: "application/x-www-form-urlencoded",
			}, false)
		},
	}
)

func init() {
	util.SetupRPCClientFlags(HTTPCommands)

	for _, cmd := range []*cobra.Command{getCmd, postCmd, putCmd, deleteCmd} {
		cmd.Flags().String("type", "management", util.WrapString("The service to send the request to (management, view)"))
		cmd.Flags().String("content-type", "application/json", util.WrapString("Content type of the body"))
		cmd.Flags().Bool("chunked", false, util.WrapString("Stream the body in chunks"))
	}
	viewCmd.Flags().Int("limit", 0, util.WrapString("Maximum number of rows"))
	viewCmd.Flags().Int("skip", 0, util.WrapString("Number of rows to skip"))
	viewCmd.Flags().Bool("chunked", false, util.WrapString("Stream the body in chunks"))
	createBucketCmd.Flags().Int("ram-quota", 100, util.WrapString("Memory quota of the bucket in MB"))
	createBucketCmd.Flags().String("bucket-password", "", util.WrapString("Password of the new bucket"))

	HTTPCommands.AddCommand(getCmd)
	HTTPCommands.AddCommand(postCmd)
	HTTPCommands.AddCommand(putCmd)
	HTTPCommands.AddCommand(deleteCmd)
	HTTPCommands.AddCommand(viewCmd)
	HTTPCommands.AddCommand(createBucketCmd)
}

func setup(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	return util.InitLogging()
}

func teardown(_ *cobra.Command, _ []string) error {
	for t, s := range sessions {
		s.Close()
		delete(sessions, t)
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func requestCommand(method completion.HTTPMethod) *cobra.Command {
	name := strings.ToLower(method.String())
	return &cobra.Command{
		Use:   name + " [path] [body]",
		Short: fmt.Sprintf("Sends a %s request", method),
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			typeName, _ := cmd.Flags().GetString("type")
			contentType, _ := cmd.Flags().GetString("content-type")

			var t completion.HTTPType
			switch typeName {
			case "management":
				t = completion.HTTPTypeManagement
			case "view":
				t = completion.HTTPTypeView
			default:
				return fmt.Errorf("invalid type %s", typeName)
			}

			req := engine.HTTPCmd{Type: t, Method: method, Path: args[0]}
			if len(args) == 2 {
				req.Body = []byte(args[1])
				req.ContentType = contentType
			}
			return request(req, chunked(cmd))
		},
	}
}

func chunked(cmd *cobra.Command) bool {
	c, _ := cmd.Flags().GetBool("chunked")
	return c
}

// session returns the connection for requests of type t. Management
// requests use a cluster connection with the administrator credentials.
func session(t completion.HTTPType) (*util.Session, error) {
	connType := completion.ConnectionBucket
	if t == completion.HTTPTypeManagement {
		connType = completion.ConnectionCluster
		if viper.GetString("user") == "" {
			viper.Set("user", "Administrator")
		}
	}
	if s, ok := sessions[connType]; ok {
		return s, nil
	}
	s, err := util.OpenSession(connType)
	if err != nil {
		return nil, err
	}
	sessions[connType] = s
	return s, nil
}

// request sends cmd and prints the response. Chunks are written as they
// arrive.
func request(cmd engine.HTTPCmd, chunked bool) error {
	cmd.Chunked = chunked
	s, err := session(cmd.Type)
	if err != nil {
		return err
	}

	// chunks are printed by their own continuation, the final completion is
	// collected by Do
	err = s.Conn.SetCallback(completion.KindHTTPData, slots.ContinuationFunc(func(c completion.Completion) {
		fmt.Print(string(c.Payload.(completion.HTTPData).Chunk))
	}))
	if err != nil {
		return err
	}

	got, err := s.Do(completion.KindHTTPComplete, func(conn *binding.Connection) error {
		return conn.HTTPRequest(nil, cmd)
	})
	if err != nil {
		return err
	}
	if chunked {
		fmt.Println()
	}

	statusCode := 0
	err = util.PrintResult(got, func(c completion.Completion) string {
		p := c.Payload.(completion.HTTPComplete)
		if len(p.Body) > 0 {
			fmt.Println(strings.TrimSpace(string(p.Body)))
		}
		statusCode = p.StatusCode
		return fmt.Sprintf("%s %s", p.Path, util.Field("status", p.StatusCode))
	})
	if err == nil && statusCode >= 400 {
		return fmt.Errorf("request failed with status %d", statusCode)
	}
	return err
}
